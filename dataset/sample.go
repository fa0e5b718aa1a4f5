// Package dataset - Samples, class dictionaries and the on-disk video frame dataset.
package dataset

import (
	"github.com/nvr-ai/go-cam/camops"
	"gorgonia.org/tensor"
)

// Sample is one dataset item. The concrete type tells which fields are present:
// Plain, WithMask, WithFlow or WithFlowAndMask.
type Sample interface {
	// SamplePath returns the path of the center frame.
	SamplePath() string
	// Center returns the normalised [3, H, W] center frame.
	Center() *tensor.Dense
	isSample()
}

// Plain is a single frame without annotations.
type Plain struct {
	Image *tensor.Dense
	Path  string
}

// WithMask is a single frame and its ground truth mask.
type WithMask struct {
	Image *tensor.Dense
	Mask  *camops.Mask
	Path  string
}

// WithFlow is a left, center and right frame window with the two neighbour flows.
type WithFlow struct {
	Frames [3]*tensor.Dense
	Flows  camops.Flows
	Path   string
}

// WithFlowAndMask is a frame window with flows and one ground truth mask per frame.
type WithFlowAndMask struct {
	Frames [3]*tensor.Dense
	Flows  camops.Flows
	Masks  [3]*camops.Mask
	Path   string
}

func (s Plain) SamplePath() string           { return s.Path }
func (s WithMask) SamplePath() string        { return s.Path }
func (s WithFlow) SamplePath() string        { return s.Path }
func (s WithFlowAndMask) SamplePath() string { return s.Path }

func (s Plain) Center() *tensor.Dense           { return s.Image }
func (s WithMask) Center() *tensor.Dense        { return s.Image }
func (s WithFlow) Center() *tensor.Dense        { return s.Frames[1] }
func (s WithFlowAndMask) Center() *tensor.Dense { return s.Frames[1] }

func (Plain) isSample()           {}
func (WithMask) isSample()        {}
func (WithFlow) isSample()        {}
func (WithFlowAndMask) isSample() {}

// GroundTruth returns the center frame mask of a sample, or nil when it has none.
func GroundTruth(s Sample) *camops.Mask {
	switch v := s.(type) {
	case WithMask:
		return v.Mask
	case WithFlowAndMask:
		return v.Masks[1]
	default:
		return nil
	}
}

// Dataset is an indexed collection of samples.
type Dataset interface {
	// Len returns the number of samples.
	Len() int
	// Get loads sample i.
	Get(i int) (Sample, error)
	// WithMask reports whether samples carry ground truth.
	WithMask() bool
	// WithFlows reports whether samples are lateral windows with flows.
	WithFlows() bool
	// WithoutFlows switches the dataset to single frame samples.
	WithoutFlows()
	// Classes returns the class dictionary.
	Classes() *Classes
}
