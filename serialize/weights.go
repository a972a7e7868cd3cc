package serialize

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sbl8/harmonics/tensor"
)

// WriteWeights encodes tensors in the HNWT v1 format: magic,
// version, then a count-prefixed array of tensor records.
func WriteWeights(w io.Writer, weights []tensor.Tensor) error {
	if err := writeMagic(w, weightsMagic, weightsVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(weights))); err != nil {
		return err
	}
	for _, t := range weights {
		if err := writeTensor(w, t); err != nil {
			return err
		}
	}
	return nil
}

// ReadWeights decodes an HNWT document.
func ReadWeights(r io.Reader) ([]tensor.Tensor, error) {
	version, err := readMagic(r, weightsMagic)
	if err != nil {
		return nil, err
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("serialize: unsupported weights version %d", version)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	out := make([]tensor.Tensor, 0, count)
	for i := uint32(0); i < count; i++ {
		t, err := readTensor(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// NamedWeight pairs a tensor with its layer name for the named HNWT
// variant.
type NamedWeight struct {
	Name   string
	Tensor tensor.Tensor
}

// WriteNamedWeights encodes the named HNWT variant.
func WriteNamedWeights(w io.Writer, weights []NamedWeight) error {
	if err := writeMagic(w, weightsMagic, weightsVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(weights))); err != nil {
		return err
	}
	for _, nw := range weights {
		if err := writeString(w, nw.Name); err != nil {
			return err
		}
		if err := writeTensor(w, nw.Tensor); err != nil {
			return err
		}
	}
	return nil
}

// ReadNamedWeights decodes the named HNWT variant.
func ReadNamedWeights(r io.Reader) ([]NamedWeight, error) {
	version, err := readMagic(r, weightsMagic)
	if err != nil {
		return nil, err
	}
	if version != weightsVersion {
		return nil, fmt.Errorf("serialize: unsupported weights version %d", version)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	out := make([]NamedWeight, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		t, err := readTensor(r)
		if err != nil {
			return nil, err
		}
		out = append(out, NamedWeight{Name: name, Tensor: t})
	}
	return out, nil
}
