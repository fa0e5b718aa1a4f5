// Package inference - ONNX Runtime sessions and per-device replicas.
package inference

import (
	"fmt"

	"github.com/nvr-ai/go-cam/inference/providers"
	ort "github.com/yalue/onnxruntime_go"
)

// Output is one model output copied out of ONNX Runtime memory.
type Output struct {
	// Shape of the output, outermost dimension first.
	Shape []int64
	// Data holds the values row-major.
	Data []float32
}

// Runner executes a float32 model on one input.
type Runner interface {
	// RunFloat32 runs the model on data of the given shape and returns every output.
	RunFloat32(data []float32, shape []int64) ([]Output, error)
	// Close releases the native resources.
	Close() error
}

// SessionArgs describe a model to load.
type SessionArgs struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// Inputs lists the input node names.
	Inputs []string
	// Outputs lists the output node names.
	Outputs []string
}

// Session wraps a dynamic-shape ONNX Runtime session bound to one device.
type Session struct {
	session *ort.DynamicAdvancedSession
	args    SessionArgs
	device  int
}

// NewSession creates a session for one model on one device.
//
// Order of operations:
//  1. Environment setup: loads the native library once per process.
//  2. Session options: provider selected for the device.
//  3. Session creation: loads the model with dynamic input shapes.
//
// Arguments:
//   - cfg: The execution provider configuration.
//   - device: The device ordinal for GPU backends.
//   - args: The model path and node names.
//
// Returns:
//   - *Session: The session. Call Close when done.
//   - error: An error if the session creation fails.
func NewSession(cfg providers.Config, device int, args SessionArgs) (*Session, error) {
	if err := providers.InitEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	provider, err := cfg.ForDevice(device)
	if err != nil {
		return nil, err
	}

	options, err := providers.NewSessionOptions(provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(args.ModelPath, args.Inputs, args.Outputs, options)
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session for %s: %w", args.ModelPath, err)
	}

	return &Session{session: session, args: args, device: device}, nil
}

// String names the model and the device ordinal the session runs on.
func (s *Session) String() string {
	return fmt.Sprintf("%s on device %d", s.args.ModelPath, s.device)
}

// Run executes the session on raw ONNX Runtime values. Nil output slots are allocated
// by ONNX Runtime and must be destroyed by the caller.
func (s *Session) Run(inputs, outputs []ort.Value) error {
	if s.session == nil {
		return fmt.Errorf("session for %s is closed", s)
	}
	if err := s.session.Run(inputs, outputs); err != nil {
		return fmt.Errorf("error running %s: %w", s, err)
	}
	return nil
}

// RunFloat32 runs a single-input model and copies every float32 output.
//
// Arguments:
//   - data: The input values, row-major.
//   - shape: The input shape.
//
// Returns:
//   - []Output: One entry per output node, in declaration order.
//   - error: An error if inference fails or an output is not float32.
func (s *Session) RunFloat32(data []float32, shape []int64) ([]Output, error) {
	input, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, len(s.args.Outputs))
	if err := s.Run([]ort.Value{input}, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out := make([]Output, len(outputs))
	for i, o := range outputs {
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is %T, expected float32 tensor", s.args.Outputs[i], o)
		}
		values := t.GetData()
		out[i] = Output{
			Shape: append([]int64(nil), t.GetShape()...),
			Data:  append([]float32(nil), values...),
		}
	}
	return out, nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		if err != nil {
			return fmt.Errorf("error destroying ORT session: %w", err)
		}
	}
	return nil
}
