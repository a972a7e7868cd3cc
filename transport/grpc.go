package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sbl8/harmonics/internal/herr"
)

// The gRPC binding streams raw frames over a hand-rolled bidirectional
// method descriptor instead of generated protobuf stubs: the payload is
// already the transport frame codec, so a passthrough codec avoids a
// second serialization layer.

type rawFrame struct{ data []byte }

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*rawFrame)
	if !ok {
		return nil, fmt.Errorf("transport: rawCodec marshal of %T", v)
	}
	return f.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("transport: rawCodec unmarshal into %T", v)
	}
	f.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "harmonics-raw" }

const tensorTransferMethod = "/harmonics.TensorTransfer/Transfer"

var tensorTransferStreamDesc = grpc.StreamDesc{
	StreamName:    "Transfer",
	ClientStreams: true,
	ServerStreams: true,
}

// grpcConn adapts a bidirectional gRPC stream to Conn.
type grpcConn struct {
	uri    string
	cc     *grpc.ClientConn
	stream grpc.ClientStream
	opts   Options
	cancel context.CancelFunc
	mu     sync.Mutex
}

func dialGRPC(hostport string, opts Options) (Conn, error) {
	cc, err := grpc.NewClient(hostport,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, &herr.TransportError{URI: "grpc:" + hostport, Err: err}
	}
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := cc.NewStream(ctx, &tensorTransferStreamDesc, tensorTransferMethod)
	if err != nil {
		cancel()
		cc.Close()
		return nil, &herr.TransportError{URI: "grpc:" + hostport, Err: err}
	}
	return &grpcConn{uri: "grpc:" + hostport, cc: cc, stream: stream, opts: opts, cancel: cancel}, nil
}

func (c *grpcConn) Push(m Message) error {
	frame, err := encodeFrame(m, c.opts.Compressed)
	if err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stream.SendMsg(&rawFrame{data: frame[4:]}); err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	return nil
}

func (c *grpcConn) Fetch() (Message, error) {
	var f rawFrame
	if err := c.stream.RecvMsg(&f); err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	m, err := decodeFrame(f.data)
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	return m, nil
}

func (c *grpcConn) Close() error {
	c.cancel()
	return c.cc.Close()
}

// grpcServerConn adapts the server side of the stream.
type grpcServerConn struct {
	uri    string
	stream grpc.ServerStream
	srv    *grpc.Server
	done   chan struct{}
	opts   Options
	mu     sync.Mutex
}

func (c *grpcServerConn) Push(m Message) error {
	frame, err := encodeFrame(m, c.opts.Compressed)
	if err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stream.SendMsg(&rawFrame{data: frame[4:]}); err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	return nil
}

func (c *grpcServerConn) Fetch() (Message, error) {
	var f rawFrame
	if err := c.stream.RecvMsg(&f); err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	m, err := decodeFrame(f.data)
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	return m, nil
}

func (c *grpcServerConn) Close() error {
	close(c.done)
	c.srv.GracefulStop()
	return nil
}

// ServeGRPC listens on addr and returns the framed connection for the first
// accepted Transfer stream.
func ServeGRPC(addr string, opts Options) (Conn, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &herr.TransportError{URI: "grpc:" + addr, Err: err}
	}

	accepted := make(chan *grpcServerConn, 1)
	srv := grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	done := make(chan struct{})
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "harmonics.TensorTransfer",
		HandlerType: (*interface{})(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Transfer",
			ClientStreams: true,
			ServerStreams: true,
			Handler: func(_ interface{}, stream grpc.ServerStream) error {
				conn := &grpcServerConn{uri: "grpc:" + addr, stream: stream, srv: srv, done: done, opts: opts}
				accepted <- conn
				// Hold the stream open until the conn is closed.
				<-conn.done
				return nil
			},
		}},
	}, nil)
	go srv.Serve(ln)

	return <-accepted, nil
}
