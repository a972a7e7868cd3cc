// Package transport implements the boundary-tensor streams the
// distributed scheduler wires between partitions: file:<path>,
// socket:<fd>, tcp:<host>:<port>, grpc:<host>:<port> and ws:<host>:<port>,
// plus an in-process loopback pair for tests and single-process
// scheduling. Every scheme carries the same frame format, and a proof
// variant carries a 32-byte digest alongside the tensor. The frame codec
// reuses serialize's tensor record.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/serialize"
	"github.com/sbl8/harmonics/tensor"
)

// Message is one boundary transfer: a tensor plus, in secure mode, the
// sender's chain proof. The pair travels in a single frame so tensor and
// proof are observed atomically.
type Message struct {
	Tensor   tensor.Tensor
	HasProof bool
	Proof    [32]byte
}

// Conn is a point-to-point reliable tensor stream.
type Conn interface {
	Push(Message) error
	Fetch() (Message, error)
	Close() error
}

// Options tune a dialed connection.
type Options struct {
	// Compressed zstd-compresses each frame's tensor record.
	Compressed bool
}

const (
	flagProof      = 1 << 0
	flagCompressed = 1 << 1
)

func encodeFrame(m Message, compressed bool) ([]byte, error) {
	var body bytes.Buffer
	if err := serialize.WriteTensor(&body, m.Tensor); err != nil {
		return nil, err
	}
	payload := body.Bytes()
	flags := byte(0)
	if compressed {
		flags |= flagCompressed
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		payload = enc.EncodeAll(payload, nil)
		enc.Close()
	}
	if m.HasProof {
		flags |= flagProof
	}

	var frame bytes.Buffer
	total := 1 + len(payload)
	if m.HasProof {
		total += 32
	}
	if err := binary.Write(&frame, binary.LittleEndian, uint32(total)); err != nil {
		return nil, err
	}
	frame.WriteByte(flags)
	if m.HasProof {
		frame.Write(m.Proof[:])
	}
	frame.Write(payload)
	return frame.Bytes(), nil
}

func decodeFrame(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, fmt.Errorf("transport: empty frame")
	}
	flags := data[0]
	data = data[1:]

	var m Message
	if flags&flagProof != 0 {
		if len(data) < 32 {
			return Message{}, fmt.Errorf("transport: truncated proof")
		}
		m.HasProof = true
		copy(m.Proof[:], data[:32])
		data = data[32:]
	}
	if flags&flagCompressed != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return Message{}, err
		}
		data, err = dec.DecodeAll(data, nil)
		dec.Close()
		if err != nil {
			return Message{}, err
		}
	}
	t, err := serialize.ReadTensor(bytes.NewReader(data))
	if err != nil {
		return Message{}, err
	}
	m.Tensor = t
	return m, nil
}

func writeFrame(w io.Writer, m Message, compressed bool) error {
	frame, err := encodeFrame(m, compressed)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func readFrame(r io.Reader) (Message, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return Message{}, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, err
	}
	return decodeFrame(data)
}

// Dial opens a Conn for a transport URI: file:<path>,
// socket:<fd>, tcp:<host>:<port>, grpc:<host>:<port>, ws:<host>:<port>.
func Dial(uri string, opts Options) (Conn, error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, &herr.TransportError{URI: uri, Err: fmt.Errorf("missing scheme")}
	}
	switch scheme {
	case "file":
		return dialFile(rest, opts)
	case "socket":
		fd, err := strconv.Atoi(rest)
		if err != nil {
			return nil, &herr.TransportError{URI: uri, Err: fmt.Errorf("bad fd %q", rest)}
		}
		return dialSocket(uintptr(fd), opts)
	case "tcp":
		return dialTCP(rest, opts)
	case "grpc":
		return dialGRPC(rest, opts)
	case "ws":
		return dialWS(rest, opts)
	default:
		return nil, &herr.TransportError{URI: uri, Err: fmt.Errorf("unknown scheme %q", scheme)}
	}
}
