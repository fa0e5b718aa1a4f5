// Package providers - CPU based execution provider.
package providers

const (
	// CPUProviderBackend runs inference on the host CPU.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUOptions contains arguments for the CPU provider.
type CPUOptions struct {
	// IntraOpThreads bounds the threads used inside one graph node. Zero lets ONNX Runtime decide.
	IntraOpThreads int `json:"intraOpThreads" yaml:"intraOpThreads"`
}

// isProviderOptions is a marker function to ensure the options are valid.
func (CPUOptions) isProviderOptions() {}

// CPUProvider implements the ExecutionProvider interface.
type CPUProvider struct {
	options CPUOptions
}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Options returns the options of the CPU provider.
func (p *CPUProvider) Options() ProviderOptions {
	return p.options
}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider(args CPUOptions) *CPUProvider {
	return &CPUProvider{options: args}
}
