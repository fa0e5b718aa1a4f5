package sam

import (
	"fmt"
	"image"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/images"
	"github.com/nvr-ai/go-cam/inference"
	"github.com/up-zero/gotool/imageutil"
	ort "github.com/yalue/onnxruntime_go"
)

// Point is one prompt in original image coordinates.
type Point struct {
	X, Y  float32
	Label Label
}

// Encoder embeds an image once so that many prompts can be decoded against it.
type Encoder interface {
	// Encode embeds img.
	Encode(img image.Image) (PromptDecoder, error)
	// Close releases the models.
	Close() error
}

// PromptDecoder decodes point prompts against one embedded image.
type PromptDecoder interface {
	// Decode returns the best mask for the prompt.
	Decode(points []Point) (*InstanceMask, error)
	// Release frees the image embeddings.
	Release()
}

// InstanceMask is one predicted object.
type InstanceMask struct {
	// Mask holds 0 or 1 per pixel at the original image size.
	Mask *camops.Mask
	// Score is the predicted IoU of the mask.
	Score float32
}

var (
	encoderInputs  = []string{"pixel_values"}
	encoderOutputs = []string{"image_embeddings.0", "image_embeddings.1", "image_embeddings.2"}
	decoderInputs  = []string{
		"input_points", "input_labels", "input_boxes",
		"image_embeddings.0", "image_embeddings.1", "image_embeddings.2",
	}
	decoderOutputs = []string{"iou_scores", "pred_masks", "object_score_logits"}
)

// Engine holds the SAM2 encoder and decoder sessions.
type Engine struct {
	encoder *inference.Session
	decoder *inference.Session
}

// NewEngine loads both SAM2 models on the configured device.
//
// Arguments:
//   - cfg: The model paths and provider.
//
// Returns:
//   - *Engine: The engine. Call Close when done.
//   - error: An error if either session fails to load.
func NewEngine(cfg Config) (*Engine, error) {
	encoder, err := inference.NewSession(cfg.Provider, cfg.Device, inference.SessionArgs{
		ModelPath: cfg.EncoderPath,
		Inputs:    encoderInputs,
		Outputs:   encoderOutputs,
	})
	if err != nil {
		return nil, fmt.Errorf("error loading sam encoder: %w", err)
	}

	decoder, err := inference.NewSession(cfg.Provider, cfg.Device, inference.SessionArgs{
		ModelPath: cfg.DecoderPath,
		Inputs:    decoderInputs,
		Outputs:   decoderOutputs,
	})
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("error loading sam decoder: %w", err)
	}

	return &Engine{encoder: encoder, decoder: decoder}, nil
}

// Close releases both sessions.
func (e *Engine) Close() error {
	encErr := e.encoder.Close()
	decErr := e.decoder.Close()
	if encErr != nil {
		return encErr
	}
	return decErr
}

// imageContext caches the embeddings of one image.
type imageContext struct {
	engine     *Engine
	embeddings []ort.Value

	origW, origH int
	scale        float32
	newW, newH   int
}

// Encode resizes the long side of img to 1024, pads to a square, normalises with the
// ImageNet statistics and runs the encoder.
//
// Arguments:
//   - img: The 8-bit RGB image.
//
// Returns:
//   - PromptDecoder: The embedded image. Call Release when done.
//   - error: An error if the encoder fails.
func (e *Engine) Encode(img image.Image) (PromptDecoder, error) {
	b := img.Bounds()
	origW, origH := b.Dx(), b.Dy()
	scale := float32(inputSize) / float32(max(origW, origH))
	newW := int(float32(origW) * scale)
	newH := int(float32(origH) * scale)

	data := normalizeAndPad(imageutil.Resize(img, newW, newH), inputSize, inputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), data)
	if err != nil {
		return nil, fmt.Errorf("error creating sam input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, len(encoderOutputs))
	if err := e.encoder.Run([]ort.Value{input}, outputs); err != nil {
		return nil, err
	}

	return &imageContext{
		engine:     e,
		embeddings: outputs,
		origW:      origW,
		origH:      origH,
		scale:      scale,
		newW:       newW,
		newH:       newH,
	}, nil
}

// Release frees the embeddings. Decode fails afterwards.
func (c *imageContext) Release() {
	for _, v := range c.embeddings {
		if v != nil {
			v.Destroy()
		}
	}
	c.embeddings = nil
}

// Decode runs the prompt decoder and keeps the mask with the highest predicted IoU.
func (c *imageContext) Decode(points []Point) (*InstanceMask, error) {
	if c.embeddings == nil {
		return nil, fmt.Errorf("image embeddings already released")
	}

	coords := make([]float32, 0, 2*len(points))
	labels := make([]int64, 0, len(points))
	for _, p := range points {
		coords = append(coords, p.X*c.scale, p.Y*c.scale)
		labels = append(labels, int64(p.Label))
	}
	n := int64(len(points))

	tPoints, err := ort.NewTensor(ort.NewShape(1, 1, n, 2), coords)
	if err != nil {
		return nil, fmt.Errorf("error creating points tensor: %w", err)
	}
	defer tPoints.Destroy()

	tLabels, err := ort.NewTensor(ort.NewShape(1, 1, n), labels)
	if err != nil {
		return nil, fmt.Errorf("error creating labels tensor: %w", err)
	}
	defer tLabels.Destroy()

	tBoxes, err := ort.NewTensor(ort.NewShape(1, 0, 4), []float32{})
	if err != nil {
		return nil, fmt.Errorf("error creating boxes tensor: %w", err)
	}
	defer tBoxes.Destroy()

	inputs := []ort.Value{tPoints, tLabels, tBoxes, c.embeddings[0], c.embeddings[1], c.embeddings[2]}
	outputs := make([]ort.Value, len(decoderOutputs))
	if err := c.engine.decoder.Run(inputs, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scores, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("iou_scores is %T, expected float32 tensor", outputs[0])
	}
	masks, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("pred_masks is %T, expected float32 tensor", outputs[1])
	}

	best, bestScore := bestIndex(scores.GetData())
	plane := logitsSize * logitsSize
	logits := masks.GetData()[best*plane : (best+1)*plane]

	validW := int(float32(c.newW) / 4)
	validH := int(float32(c.newH) / 4)
	return &InstanceMask{
		Mask:  upscaleMaskLogits(logits, logitsSize, validW, validH, c.origW, c.origH),
		Score: bestScore,
	}, nil
}

func bestIndex(scores []float32) (int, float32) {
	best, bestScore := 0, float32(-100)
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

// normalizeAndPad writes src into the top-left corner of a zero targetW x targetH CHW
// buffer, standardised with the ImageNet statistics.
func normalizeAndPad(src image.Image, targetW, targetH int) []float32 {
	b := src.Bounds()
	plane := targetW * targetH
	data := make([]float32, 3*plane)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*targetW + x
			for c, v := range [3]uint32{r, g, bl} {
				data[c*plane+i] = (float32(v)/65535 - images.ImageNetMean[c]) / images.ImageNetStd[c]
			}
		}
	}
	return data
}

// upscaleMaskLogits maps the valid region of the low resolution logits to the original
// image size with nearest sampling and thresholds them to 0 or 1. The valid region is
// at least one logit wide and high.
func upscaleMaskLogits(logits []float32, stride, validW, validH, dstW, dstH int) *camops.Mask {
	validW, validH = max(validW, 1), max(validH, 1)
	out := camops.NewMask(dstW, dstH)
	xRatio := float32(validW) / float32(dstW)
	yRatio := float32(validH) / float32(dstH)
	for y := 0; y < dstH; y++ {
		srcY := min(int(float32(y)*yRatio), validH-1)
		for x := 0; x < dstW; x++ {
			srcX := min(int(float32(x)*xRatio), validW-1)
			if logits[srcY*stride+srcX] > maskThreshold {
				out.Pix[y*dstW+x] = 1
			}
		}
	}
	return out
}
