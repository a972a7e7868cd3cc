package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/sbl8/harmonics/tensor"
)

// Checkpoint is the full runtime state a CycleRuntime persists: the
// digest of the graph it was taken at, every node tensor, weights,
// precision bits, the secure chain hash, and an optional RNG seed.
type Checkpoint struct {
	GraphDigest     [32]byte
	ProducerTensors []tensor.Tensor
	ConsumerTensors []tensor.Tensor
	LayerTensors    []tensor.Tensor
	Weights         []tensor.Tensor
	PrecisionBits   []uint8
	ChainHash       [32]byte
	HasSeed         bool
	Seed            uint64
}

func writeTensorArray(w io.Writer, ts []tensor.Tensor) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ts))); err != nil {
		return err
	}
	for _, t := range ts {
		if err := writeTensor(w, t); err != nil {
			return err
		}
	}
	return nil
}

func readTensorArray(r io.Reader) ([]tensor.Tensor, error) {
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

func (c *Checkpoint) encodeState() ([]byte, error) {
	var buf bytes.Buffer
	for _, ts := range [][]tensor.Tensor{c.ProducerTensors, c.ConsumerTensors, c.LayerTensors, c.Weights} {
		if err := writeTensorArray(&buf, ts); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(c.PrecisionBits))); err != nil {
		return nil, err
	}
	buf.Write(c.PrecisionBits)
	buf.Write(c.ChainHash[:])
	if err := writeBool(&buf, c.HasSeed); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, c.Seed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Checkpoint) decodeState(data []byte) error {
	r := bytes.NewReader(data)
	var err error
	if c.ProducerTensors, err = readTensorArray(r); err != nil {
		return err
	}
	if c.ConsumerTensors, err = readTensorArray(r); err != nil {
		return err
	}
	if c.LayerTensors, err = readTensorArray(r); err != nil {
		return err
	}
	if c.Weights, err = readTensorArray(r); err != nil {
		return err
	}
	var bitCount uint32
	if err = binary.Read(r, binary.LittleEndian, &bitCount); err != nil {
		return err
	}
	c.PrecisionBits = make([]uint8, bitCount)
	if _, err = io.ReadFull(r, c.PrecisionBits); err != nil {
		return err
	}
	if _, err = io.ReadFull(r, c.ChainHash[:]); err != nil {
		return err
	}
	if c.HasSeed, err = readBool(r); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &c.Seed)
}

// WriteCheckpoint encodes c. When compress is set the state segment is
// zstd-compressed; the header (magic, version, digest, flag) stays
// uncompressed so readers can reject a digest mismatch before inflating
// anything.
func WriteCheckpoint(w io.Writer, c *Checkpoint, compress bool) error {
	if err := writeMagic(w, checkpointMagic, checkpointVersion); err != nil {
		return err
	}
	if _, err := w.Write(c.GraphDigest[:]); err != nil {
		return err
	}
	if err := writeBool(w, compress); err != nil {
		return err
	}

	state, err := c.encodeState()
	if err != nil {
		return err
	}
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return err
		}
		state = enc.EncodeAll(state, nil)
		enc.Close()
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(state))); err != nil {
		return err
	}
	_, err = w.Write(state)
	return err
}

// ReadCheckpoint decodes a checkpoint document.
func ReadCheckpoint(r io.Reader) (*Checkpoint, error) {
	version, err := readMagic(r, checkpointMagic)
	if err != nil {
		return nil, err
	}
	if version != checkpointVersion {
		return nil, fmt.Errorf("serialize: unsupported checkpoint version %d", version)
	}

	c := &Checkpoint{}
	if _, err := io.ReadFull(r, c.GraphDigest[:]); err != nil {
		return nil, err
	}
	compressed, err := readBool(r)
	if err != nil {
		return nil, err
	}
	var stateLen uint64
	if err := binary.Read(r, binary.LittleEndian, &stateLen); err != nil {
		return nil, err
	}
	state := make([]byte, stateLen)
	if _, err := io.ReadFull(r, state); err != nil {
		return nil, err
	}
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		state, err = dec.DecodeAll(state, nil)
		dec.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := c.decodeState(state); err != nil {
		return nil, err
	}
	return c, nil
}
