// Package kernel defines the function-valued kernel signatures shared by
// the registry, builtins, and compiler: activation and layer transforms
// are tensor->tensor, loss functions are tensor x tensor
// (prediction, label) -> tensor. Kernels are named function values rather
// than a type hierarchy.
package kernel

import "github.com/sbl8/harmonics/tensor"

// Fn is an activation or layer transform: one tensor in, one tensor out.
type Fn func(in tensor.Tensor, bits uint8) (tensor.Tensor, error)

// LossFn scores a prediction against a label, returning a scalar surrogate
// gradient tensor.
type LossFn func(prediction, label tensor.Tensor, bits uint8) (tensor.Tensor, error)

// Kind distinguishes which of the three registry tables a name belongs to.
type Kind uint8

const (
	KindActivation Kind = iota
	KindLoss
	KindLayer
)
