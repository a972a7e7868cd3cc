// Package serialize implements the binary graph/weights/checkpoint
// codecs: little-endian, length-prefixed formats with four-byte magics and
// u16 versions, written through encoding/binary. Checkpoints carry the
// BLAKE3 digest of the graph they were taken at.
package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sbl8/harmonics/tensor"
)

const (
	graphMagic      = "HGRF"
	weightsMagic    = "HNWT"
	checkpointMagic = "HCKP"

	graphVersion      = uint16(1)
	weightsVersion    = uint16(1)
	checkpointVersion = uint16(1)
)

func writeMagic(w io.Writer, magic string, version uint16) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, version)
}

func readMagic(r io.Reader, magic string) (uint16, error) {
	got := make([]byte, 4)
	if _, err := io.ReadFull(r, got); err != nil {
		return 0, err
	}
	if !bytes.Equal(got, []byte(magic)) {
		return 0, fmt.Errorf("serialize: bad magic %q, want %q", got, magic)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	return version, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBool(w io.Writer, b bool) error {
	v := uint8(0)
	if b {
		v = 1
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readBool(r io.Reader) (bool, error) {
	var v uint8
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return false, err
	}
	return v != 0, nil
}

// WriteTensor emits one standalone tensor record in the HNWT element
// layout; the transport package reuses it for boundary-tensor frames.
func WriteTensor(w io.Writer, t tensor.Tensor) error { return writeTensor(w, t) }

// ReadTensor decodes one standalone tensor record.
func ReadTensor(r io.Reader) (tensor.Tensor, error) { return readTensor(r) }

// writeTensor emits one tensor record: u8 dtype, u8 rank, u64 dims, u64
// byte count, raw bytes.
func writeTensor(w io.Writer, t tensor.Tensor) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(t.Kind)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(t.Shape))); err != nil {
		return err
	}
	for _, d := range t.Shape {
		if err := binary.Write(w, binary.LittleEndian, uint64(d)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(t.Data))); err != nil {
		return err
	}
	_, err := w.Write(t.Data)
	return err
}

func readTensor(r io.Reader) (tensor.Tensor, error) {
	var kind, rank uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return tensor.Tensor{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return tensor.Tensor{}, err
	}
	t := tensor.Tensor{Kind: tensor.Kind(kind)}
	for i := 0; i < int(rank); i++ {
		var d uint64
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return tensor.Tensor{}, err
		}
		t.Shape = append(t.Shape, uint32(d))
	}
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return tensor.Tensor{}, err
	}
	if n > 0 {
		t.Data = make([]byte, n)
		if _, err := io.ReadFull(r, t.Data); err != nil {
			return tensor.Tensor{}, err
		}
	}
	return t, nil
}
