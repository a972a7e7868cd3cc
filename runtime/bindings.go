package runtime

import "github.com/sbl8/harmonics/tensor"

// Producer is the external data-source contract: Next pulls one
// sample (an empty Tensor signals end-of-stream), Size reports a known
// element count or 0 for unknown/infinite streams.
type Producer interface {
	Next() (tensor.Tensor, error)
	Size() uint64
}

// Consumer is the external data-sink contract.
type Consumer interface {
	Push(tensor.Tensor) error
}

// FuncProducer adapts a plain function slice into a Producer, useful for
// tests and for small in-process bindings (constant producers, counting
// producers).
type FuncProducer struct {
	next func() (tensor.Tensor, error)
	size uint64
}

// NewFuncProducer builds a Producer from a Next function and a declared
// Size (0 for unknown).
func NewFuncProducer(size uint64, next func() (tensor.Tensor, error)) *FuncProducer {
	return &FuncProducer{next: next, size: size}
}

func (f *FuncProducer) Next() (tensor.Tensor, error) { return f.next() }
func (f *FuncProducer) Size() uint64                 { return f.size }

// ConstantProducer always yields the same tensor — useful for determinism
// tests and for constant/bias inputs.
type ConstantProducer struct {
	t tensor.Tensor
}

// NewConstantProducer builds a Producer that always yields t.Clone().
func NewConstantProducer(t tensor.Tensor) *ConstantProducer { return &ConstantProducer{t: t} }

func (c *ConstantProducer) Next() (tensor.Tensor, error) { return c.t.Clone(), nil }
func (c *ConstantProducer) Size() uint64                 { return 0 }

// SliceProducer yields tensors from a fixed slice in order, then an empty
// tensor (end-of-stream) forever after.
type SliceProducer struct {
	items []tensor.Tensor
	pos   int
	calls int
}

// NewSliceProducer builds a Producer over items.
func NewSliceProducer(items []tensor.Tensor) *SliceProducer {
	return &SliceProducer{items: items}
}

func (s *SliceProducer) Next() (tensor.Tensor, error) {
	s.calls++
	if s.pos >= len(s.items) {
		return tensor.Tensor{}, nil
	}
	t := s.items[s.pos]
	s.pos++
	return t, nil
}

func (s *SliceProducer) Size() uint64 { return uint64(len(s.items)) }

// Calls reports how many times Next has been invoked — used by tests
// verifying the branching sampling invariant.
func (s *SliceProducer) Calls() int { return s.calls }

// FuncConsumer adapts a plain function into a Consumer.
type FuncConsumer struct {
	push func(tensor.Tensor) error
}

// NewFuncConsumer builds a Consumer from a push function.
func NewFuncConsumer(push func(tensor.Tensor) error) *FuncConsumer {
	return &FuncConsumer{push: push}
}

func (f *FuncConsumer) Push(t tensor.Tensor) error { return f.push(t) }

// CollectingConsumer records every pushed tensor, for tests and for
// graph-info/shell style inspection.
type CollectingConsumer struct {
	Received []tensor.Tensor
}

func (c *CollectingConsumer) Push(t tensor.Tensor) error {
	c.Received = append(c.Received, t.Clone())
	return nil
}
