package transport

import (
	"io"
	"net"
	"os"
	"sync"

	"github.com/sbl8/harmonics/internal/herr"
)

// streamConn frames messages over any reliable byte stream: a file, an
// inherited socket fd, or a TCP connection.
type streamConn struct {
	uri  string
	rw   io.ReadWriteCloser
	opts Options

	mu sync.Mutex // serializes Push so outgoing frames never interleave
}

func (c *streamConn) Push(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.rw, m, c.opts.Compressed); err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	return nil
}

func (c *streamConn) Fetch() (Message, error) {
	m, err := readFrame(c.rw)
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	return m, nil
}

func (c *streamConn) Close() error { return c.rw.Close() }

// fileConn reads and writes frames against one file, tracking a read
// cursor independent of the append position so a producer/consumer pair
// can share the path.
type fileConn struct {
	uri     string
	path    string
	opts    Options
	mu      sync.Mutex
	readOff int64
}

func dialFile(path string, opts Options) (Conn, error) {
	// Touch the file so a fetch-before-push sees EOF rather than ENOENT.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &herr.TransportError{URI: "file:" + path, Err: err}
	}
	f.Close()
	return &fileConn{uri: "file:" + path, path: path, opts: opts}, nil
}

func (c *fileConn) Push(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	defer f.Close()
	if err := writeFrame(f, m, c.opts.Compressed); err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	return nil
}

func (c *fileConn) Fetch() (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.Open(c.path)
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	defer f.Close()
	if _, err := f.Seek(c.readOff, 0); err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	m, err := readFrame(f)
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	off, err := f.Seek(0, 1)
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	c.readOff = off
	return m, nil
}

func (c *fileConn) Close() error { return nil }

func dialSocket(fd uintptr, opts Options) (Conn, error) {
	f := os.NewFile(fd, "socket")
	if f == nil {
		return nil, &herr.TransportError{URI: "socket:", Err: os.ErrInvalid}
	}
	if nc, err := net.FileConn(f); err == nil {
		f.Close()
		return &streamConn{uri: "socket:", rw: nc, opts: opts}, nil
	}
	// Not a socket fd after all; frame straight over the file.
	return &streamConn{uri: "socket:", rw: f, opts: opts}, nil
}

func dialTCP(hostport string, opts Options) (Conn, error) {
	nc, err := net.Dial("tcp", hostport)
	if err != nil {
		return nil, &herr.TransportError{URI: "tcp:" + hostport, Err: err}
	}
	return &streamConn{uri: "tcp:" + hostport, rw: nc, opts: opts}, nil
}

// ListenTCP accepts a single peer and returns the framed connection,
// blocking until the peer dials.
func ListenTCP(hostport string, opts Options) (Conn, error) {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, &herr.TransportError{URI: "tcp:" + hostport, Err: err}
	}
	nc, err := ln.Accept()
	ln.Close()
	if err != nil {
		return nil, &herr.TransportError{URI: "tcp:" + hostport, Err: err}
	}
	return &streamConn{uri: "tcp:" + hostport, rw: nc, opts: opts}, nil
}
