package dataset

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/pkg/errors"
)

// floMagic is the "PIEH" tag opening every Middlebury .flo file.
const floMagic float32 = 202021.25

// floChunk is the number of (dx, dy) pairs read at a time. Storage grows with the
// pairs actually present, never with the header's claimed size.
const floChunk = 1 << 14

// ErrBadFlow is returned for malformed .flo data.
var ErrBadFlow = errors.New("malformed .flo file")

// ReadFlow reads a Middlebury .flo file: the magic number, int32 width and height,
// then interleaved little-endian float32 (dx, dy) pairs in row-major order.
//
// Arguments:
//   - path: The file.
//
// Returns:
//   - *camops.Flow: The field.
//   - error: ErrBadFlow for a wrong magic, size or truncated body.
func ReadFlow(path string) (*camops.Flow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening flow %s", path)
	}
	defer f.Close()

	flow, err := DecodeFlow(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "reading flow %s", path)
	}
	return flow, nil
}

// DecodeFlow decodes .flo data from r.
func DecodeFlow(r io.Reader) (*camops.Flow, error) {
	var header struct {
		Magic  float32
		Width  int32
		Height int32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(ErrBadFlow, err.Error())
	}
	if header.Magic != floMagic {
		return nil, errors.Wrapf(ErrBadFlow, "magic %v", header.Magic)
	}
	if header.Width < 1 || header.Height < 1 || int64(header.Width)*int64(header.Height) > math.MaxInt32 {
		return nil, errors.Wrapf(ErrBadFlow, "size %dx%d", header.Width, header.Height)
	}

	w, h := int(header.Width), int(header.Height)
	n := w * h
	dx := make([]float32, 0, min(n, floChunk))
	dy := make([]float32, 0, min(n, floChunk))
	buf := make([]float32, 2*min(n, floChunk))
	for len(dx) < n {
		chunk := buf[:2*min(n-len(dx), floChunk)]
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, errors.Wrapf(ErrBadFlow, "body of %dx%d after %d pairs: %v", w, h, len(dx), err)
		}
		for i := 0; i < len(chunk); i += 2 {
			dx = append(dx, chunk[i])
			dy = append(dy, chunk[i+1])
		}
	}
	return &camops.Flow{
		DX: &camops.Map{Width: w, Height: h, Data: dx},
		DY: &camops.Map{Width: w, Height: h, Data: dy},
	}, nil
}

// WriteFlow writes a field as a Middlebury .flo file, creating parent directories.
func WriteFlow(path string, flow *camops.Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating flow %s", path)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := EncodeFlow(bw, flow); err != nil {
		return errors.Wrapf(err, "writing flow %s", path)
	}
	return bw.Flush()
}

// EncodeFlow encodes a field as .flo data.
func EncodeFlow(w io.Writer, flow *camops.Flow) error {
	size := flow.Size()
	header := []any{floMagic, int32(size.Width), int32(size.Height)}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	pairs := make([]float32, 0, 2*len(flow.DX.Data))
	for i := range flow.DX.Data {
		pairs = append(pairs, flow.DX.Data[i], flow.DY.Data[i])
	}
	return binary.Write(w, binary.LittleEndian, pairs)
}
