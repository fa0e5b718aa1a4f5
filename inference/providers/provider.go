// Package providers - Execution providers and ONNX Runtime session options.
package providers

import (
	"fmt"
	"strings"
)

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	Backend() ProviderBackend
	Options() ProviderOptions
}

// Config selects the execution provider of every session the module creates.
type Config struct {
	// Backend is "cpu" or "cuda".
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// LibraryPath overrides the ONNX Runtime shared library location.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// IntraOpThreads bounds the threads used inside one graph node. Zero lets ONNX Runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// GPUMemLimit bounds each CUDA arena in bytes. Zero means unlimited.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
}

// Validate checks that the backend is known.
func (c Config) Validate() error {
	switch ProviderBackend(strings.ToLower(string(c.Backend))) {
	case CPUProviderBackend, CUDAProviderBackend, "":
		return nil
	default:
		return fmt.Errorf("unsupported provider backend %q", c.Backend)
	}
}

// ForDevice builds the execution provider for one device. CPU configs ignore the device.
//
// Arguments:
//   - device: The CUDA device ordinal, as seen by this process.
//
// Returns:
//   - ExecutionProvider: The provider.
//   - error: An error if the backend is unsupported.
func (c Config) ForDevice(device int) (ExecutionProvider, error) {
	switch ProviderBackend(strings.ToLower(string(c.Backend))) {
	case CPUProviderBackend, "":
		return NewProvider(CPUOptions{IntraOpThreads: c.IntraOpThreads})
	case CUDAProviderBackend:
		return NewProvider(CUDAOptions{DeviceID: device, GPUMemLimit: c.GPUMemLimit, DoCopyInDefaultStream: true})
	default:
		return nil, fmt.Errorf("no matching provider backend registered: %s", c.Backend)
	}
}

// NewProvider creates a new provider based on the options type.
//
// Arguments:
//   - options: The options for the provider.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the provider creation fails.
func NewProvider(options ProviderOptions) (ExecutionProvider, error) {
	switch opts := options.(type) {
	case CPUOptions:
		return NewCPUProvider(opts), nil
	case CUDAOptions:
		return NewCUDAProvider(opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider options type: %T", opts)
	}
}
