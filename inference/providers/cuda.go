// Package providers - CUDA based execution provider.
package providers

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAProvider implements the ExecutionProvider interface.
type CUDAProvider struct {
	options CUDAOptions
}

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"              yaml:"deviceID"`
	// Whether to do copies in the default stream or use separate streams. The recommended setting is
	// true. If false, there are race conditions and possibly better performance.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream" yaml:"doCopyInDefaultStream"`
	// The size limit of the device memory arena in bytes. Zero leaves the limit unset.
	GPUMemLimit int64 `json:"gpuMemLimit"           yaml:"gpuMemLimit"`
	// The strategy for extending the device memory arena.
	// 0: kNextPowerOfTwo - subsequent extensions extend by larger amounts (multiplied by powers of
	// two)
	// 1: kSameAsRequested - extend by the requested amount
	ArenaExtendStrategy int `json:"arenaExtendStrategy"   yaml:"arenaExtendStrategy"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT
	CudnnConvAlgoSearch int `json:"cudnnConvAlgoSearch"   yaml:"cudnnConvAlgoSearch"`
}

// NativeOptions returns the provider options as the string map ONNX Runtime expects.
func (o CUDAOptions) NativeOptions() map[string]string {
	opts := map[string]string{
		"device_id":                 fmt.Sprintf("%d", o.DeviceID),
		"do_copy_in_default_stream": fmt.Sprintf("%d", boolToInt(o.DoCopyInDefaultStream)),
		"arena_extend_strategy":     arenaStrategies[o.ArenaExtendStrategy],
		"cudnn_conv_algo_search":    convAlgoSearches[o.CudnnConvAlgoSearch],
	}
	if o.GPUMemLimit > 0 {
		opts["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return opts
}

var arenaStrategies = map[int]string{0: "kNextPowerOfTwo", 1: "kSameAsRequested"}

var convAlgoSearches = map[int]string{0: "EXHAUSTIVE", 1: "HEURISTIC", 2: "DEFAULT"}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ToNativeProviderOptions converts the CUDA options to native ONNX Runtime provider options.
// The caller must Destroy the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.NativeOptions()); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("error updating CUDA provider options: %w", err)
	}
	return opts, nil
}

// isProviderOptions is a marker function to ensure the options are valid.
func (CUDAOptions) isProviderOptions() {}

// Backend returns the backend of the CUDA provider.
func (p *CUDAProvider) Backend() ProviderBackend {
	return CUDAProviderBackend
}

// Options returns the options of the CUDA provider.
func (p *CUDAProvider) Options() ProviderOptions {
	return p.options
}

// NewCUDAProvider creates a new CUDA provider.
func NewCUDAProvider(args CUDAOptions) *CUDAProvider {
	return &CUDAProvider{
		options: args,
	}
}
