// Package tensor defines the value-type numeric container shared by every
// layer of the harmonics runtime: the DSL builder, the kernel registry, and
// CycleRuntime all pass Tensor by value between node boundaries.
package tensor

import (
	"fmt"
	"unsafe"
)

// Kind is the element type carried by a Tensor's byte buffer.
type Kind uint8

const (
	Float32 Kind = iota
	Float64
	Int32
	Int64
	UInt8
)

// String renders a Kind for logs and error messages.
func (k Kind) String() string {
	switch k {
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	case Int32:
		return "i32"
	case Int64:
		return "i64"
	case UInt8:
		return "u8"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ElementSize returns the byte width of a single element of this kind.
func (k Kind) ElementSize() int {
	switch k {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case UInt8:
		return 1
	default:
		return 0
	}
}

// Tensor is an immutable-by-value container: a kind, a shape, and a byte
// buffer whose size equals elementsize(kind) * product(shape), unless shape
// is empty (rank 0, meaning "unset"). Callers that mutate a Tensor's Data in
// place must first Clone it; Tensor itself never aliases writes implicitly.
type Tensor struct {
	Kind  Kind
	Shape []uint32
	Data  []byte
}

// Empty reports whether t carries no data — the end-of-stream marker
// returned by a Producer.Next() that is exhausted.
func (t Tensor) Empty() bool {
	return len(t.Data) == 0 && len(t.Shape) == 0
}

// Elements returns the product of the shape dimensions, or 0 for rank 0.
func (t Tensor) Elements() uint64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := uint64(1)
	for _, d := range t.Shape {
		n *= uint64(d)
	}
	return n
}

// Validate checks that Data's length matches Kind/Shape.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return nil
	}
	want := t.Elements() * uint64(t.Kind.ElementSize())
	if uint64(len(t.Data)) != want {
		return fmt.Errorf("tensor: shape %v kind %s wants %d bytes, got %d", t.Shape, t.Kind, want, len(t.Data))
	}
	return nil
}

// Clone returns a deep copy; shape and data buffers are never shared with t.
func (t Tensor) Clone() Tensor {
	out := Tensor{Kind: t.Kind}
	if t.Shape != nil {
		out.Shape = append([]uint32(nil), t.Shape...)
	}
	if t.Data != nil {
		out.Data = append([]byte(nil), t.Data...)
	}
	return out
}

// SameShape reports whether two tensors carry the same kind and dimensions.
func SameShape(a, b Tensor) bool {
	if a.Kind != b.Kind || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Float32s views Data as a []float32 slice without copying. The tensor must
// be Kind Float32 and Data must be 4-byte aligned in length.
func (t Tensor) Float32s() ([]float32, error) {
	if t.Kind != Float32 {
		return nil, fmt.Errorf("tensor: Float32s called on kind %s", t.Kind)
	}
	if len(t.Data)%4 != 0 {
		return nil, fmt.Errorf("tensor: data length %d not a multiple of 4", len(t.Data))
	}
	if len(t.Data) == 0 {
		return nil, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4), nil
}

// FromFloat32 builds a rank-1 Float32 tensor from a slice, copying its bytes.
func FromFloat32(vals []float32) Tensor {
	if len(vals) == 0 {
		return Tensor{Kind: Float32, Shape: []uint32{0}, Data: nil}
	}
	buf := make([]byte, len(vals)*4)
	fs := unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), len(vals))
	copy(fs, vals)
	return Tensor{Kind: Float32, Shape: []uint32{uint32(len(vals))}, Data: buf}
}
