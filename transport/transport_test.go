package transport_test

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/harmonics/internal/herr"
	"github.com/sbl8/harmonics/tensor"
	"github.com/sbl8/harmonics/transport"
)

func msg(vals []float32) transport.Message {
	return transport.Message{Tensor: tensor.FromFloat32(vals)}
}

func requireTensorEqual(t *testing.T, want, got tensor.Tensor) {
	t.Helper()
	require.Equal(t, want.Kind, got.Kind)
	require.Equal(t, want.Shape, got.Shape)
	require.Equal(t, want.Data, got.Data)
}

func TestLoopbackRoundTrip(t *testing.T) {
	a, b := transport.NewLoopback(4)
	defer a.Close()

	require.NoError(t, a.Push(msg([]float32{1, 2, 3})))
	got, err := b.Fetch()
	require.NoError(t, err)
	requireTensorEqual(t, tensor.FromFloat32([]float32{1, 2, 3}), got.Tensor)

	require.NoError(t, b.Push(msg([]float32{4})))
	back, err := a.Fetch()
	require.NoError(t, err)
	requireTensorEqual(t, tensor.FromFloat32([]float32{4}), back.Tensor)
}

func TestLoopbackCarriesProofAtomically(t *testing.T) {
	a, b := transport.NewLoopback(1)
	defer a.Close()

	m := msg([]float32{7})
	m.HasProof = true
	m.Proof = [32]byte{0xAB, 0xCD}
	require.NoError(t, a.Push(m))

	got, err := b.Fetch()
	require.NoError(t, err)
	require.True(t, got.HasProof)
	require.Equal(t, m.Proof, got.Proof)
}

func TestFileTransportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundary.bin")

	writer, err := transport.Dial("file:"+path, transport.Options{})
	require.NoError(t, err)
	reader, err := transport.Dial("file:"+path, transport.Options{})
	require.NoError(t, err)

	require.NoError(t, writer.Push(msg([]float32{1})))
	require.NoError(t, writer.Push(msg([]float32{2})))

	first, err := reader.Fetch()
	require.NoError(t, err)
	requireTensorEqual(t, tensor.FromFloat32([]float32{1}), first.Tensor)
	second, err := reader.Fetch()
	require.NoError(t, err)
	requireTensorEqual(t, tensor.FromFloat32([]float32{2}), second.Tensor)
}

func TestFileTransportCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundary.zst")
	opts := transport.Options{Compressed: true}

	conn, err := transport.Dial("file:"+path, opts)
	require.NoError(t, err)

	vals := make([]float32, 1024)
	require.NoError(t, conn.Push(msg(vals)))
	got, err := conn.Fetch()
	require.NoError(t, err)
	requireTensorEqual(t, tensor.FromFloat32(vals), got.Tensor)
}

func TestTCPTransportRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	type res struct {
		conn transport.Conn
		err  error
	}
	serverc := make(chan res, 1)
	go func() {
		c, err := transport.ListenTCP(addr, transport.Options{})
		serverc <- res{c, err}
	}()

	var client transport.Conn
	require.Eventually(t, func() bool {
		c, err := transport.Dial("tcp:"+addr, transport.Options{})
		if err != nil {
			return false
		}
		client = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer client.Close()

	server := <-serverc
	require.NoError(t, server.err)
	defer server.conn.Close()

	m := msg([]float32{3, 1, 4})
	m.HasProof = true
	m.Proof = [32]byte{1}
	require.NoError(t, client.Push(m))

	got, err := server.conn.Fetch()
	require.NoError(t, err)
	requireTensorEqual(t, m.Tensor, got.Tensor)
	require.Equal(t, m.Proof, got.Proof)
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := transport.Dial("carrier-pigeon:somewhere", transport.Options{})
	require.True(t, errors.Is(err, herr.ErrTransport))
}

func TestDialMissingScheme(t *testing.T) {
	_, err := transport.Dial("nonsense", transport.Options{})
	require.Error(t, err)
}
