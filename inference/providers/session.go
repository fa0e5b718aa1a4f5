// Package providers - Inference session options.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// NewSessionOptions creates ONNX Runtime session options for a provider.
//
// Order of operations:
//  1. Session options: threading and graph optimisation level.
//  2. Execution providers: CUDA is appended when requested; CPU needs nothing extra.
//
// **Note: The caller must Destroy the returned options.**
//
// Arguments:
//   - provider: The provider for the session.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: An error if the options cannot be created.
func NewSessionOptions(provider ExecutionProvider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	// Enables advanced graph rewrites (e.g., fusion, constant folding) during graph loading.
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("error setting graph optimization level: %w", err)
	}

	switch provider.Backend() {
	case CPUProviderBackend:
		opts, ok := provider.Options().(CPUOptions)
		if !ok {
			options.Destroy()
			return nil, fmt.Errorf("invalid options type for CPU: %T", provider.Options())
		}
		if opts.IntraOpThreads > 0 {
			if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
				options.Destroy()
				return nil, fmt.Errorf("error setting intra-op threads: %w", err)
			}
		}
	case CUDAProviderBackend:
		opts, ok := provider.Options().(CUDAOptions)
		if !ok {
			options.Destroy()
			return nil, fmt.Errorf("invalid options type for CUDA: %T", provider.Options())
		}
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("error enabling CUDA: %w", err)
		}
	}

	return options, nil
}
