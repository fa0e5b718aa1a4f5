package inference

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nvr-ai/go-cam/inference/providers"
)

// Replicas holds one runner per visible device and splits batches across them.
type Replicas struct {
	runners []Runner
}

// NewReplicas loads one session per device.
//
// Arguments:
//   - cfg: The execution provider configuration.
//   - devices: The number of devices to replicate across. Values below one mean one.
//   - args: The model path and node names.
//
// Returns:
//   - *Replicas: The replicas. Call Close when done.
//   - error: An error if any session fails to load. Sessions already created are closed.
func NewReplicas(cfg providers.Config, devices int, args SessionArgs) (*Replicas, error) {
	devices = max(devices, 1)
	r := &Replicas{}
	for d := 0; d < devices; d++ {
		s, err := NewSession(cfg, d, args)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("replica %d: %w", d, err)
		}
		r.runners = append(r.runners, s)
	}
	return r, nil
}

// NewReplicasFrom wraps already created runners.
func NewReplicasFrom(runners ...Runner) *Replicas {
	return &Replicas{runners: runners}
}

// Len returns the number of replicas.
func (r *Replicas) Len() int {
	return len(r.runners)
}

// RunBatch runs a batch whose outermost dimension is the batch axis. With several
// replicas the batch is split into contiguous chunks, one per replica, run
// concurrently and joined back in order along the batch axis.
//
// Arguments:
//   - data: The batch values, row-major.
//   - shape: The batch shape; shape[0] is the batch size.
//
// Returns:
//   - []Output: One entry per output node, batch axis restored.
//   - error: The first replica error, if any.
func (r *Replicas) RunBatch(data []float32, shape []int64) ([]Output, error) {
	if len(r.runners) == 0 {
		return nil, errors.New("no replicas loaded")
	}
	if len(shape) == 0 || shape[0] < 1 {
		return nil, fmt.Errorf("invalid batch shape %v", shape)
	}
	batch := int(shape[0])
	if len(r.runners) == 1 || batch == 1 {
		return r.runners[0].RunFloat32(data, shape)
	}

	item := len(data) / batch
	chunks := splitBatch(batch, len(r.runners))
	results := make([][]Output, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func(idx int, c chunk) {
			defer wg.Done()

			chunkShape := append([]int64{int64(c.end - c.start)}, shape[1:]...)
			out, err := r.runners[idx].RunFloat32(data[c.start*item:c.end*item], chunkShape)
			if err != nil {
				errs[idx] = fmt.Errorf("replica %d: %w", idx, err)
				return
			}
			results[idx] = out
		}(i, c)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return gatherOutputs(results)
}

// Close releases every replica and returns the first error.
func (r *Replicas) Close() error {
	var first error
	for _, s := range r.runners {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.runners = nil
	return first
}

type chunk struct {
	start, end int
}

// splitBatch divides n items into at most parts contiguous chunks whose sizes differ
// by at most one, larger chunks first.
func splitBatch(n, parts int) []chunk {
	parts = min(parts, n)
	out := make([]chunk, 0, parts)
	base, extra := n/parts, n%parts
	start := 0
	for i := 0; i < parts; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, chunk{start: start, end: start + size})
		start += size
	}
	return out
}

// gatherOutputs concatenates per-replica outputs along the batch axis.
func gatherOutputs(results [][]Output) ([]Output, error) {
	out := make([]Output, len(results[0]))
	for o := range out {
		shape := append([]int64(nil), results[0][o].Shape...)
		shape[0] = 0
		var data []float32
		for i, res := range results {
			if len(res) != len(out) {
				return nil, fmt.Errorf("replica %d returned %d outputs, replica 0 returned %d", i, len(res), len(out))
			}
			shape[0] += res[o].Shape[0]
			data = append(data, res[o].Data...)
		}
		out[o] = Output{Shape: shape, Data: data}
	}
	return out, nil
}
