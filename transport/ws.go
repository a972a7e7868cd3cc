package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sbl8/harmonics/internal/herr"
)

// wsConn frames messages as binary websocket messages, one frame body per
// message (the length prefix is redundant under websocket framing and is
// omitted).
type wsConn struct {
	uri  string
	ws   *websocket.Conn
	opts Options
	mu   sync.Mutex
}

func dialWS(hostport string, opts Options) (Conn, error) {
	uri := "ws://" + hostport + "/tensor"
	ws, _, err := websocket.DefaultDialer.Dial(uri, nil)
	if err != nil {
		return nil, &herr.TransportError{URI: "ws:" + hostport, Err: err}
	}
	return &wsConn{uri: "ws:" + hostport, ws: ws, opts: opts}, nil
}

func (c *wsConn) Push(m Message) error {
	frame, err := encodeFrame(m, c.opts.Compressed)
	if err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Strip the stream length prefix; websocket preserves message bounds.
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame[4:]); err != nil {
		return &herr.TransportError{URI: c.uri, Err: err}
	}
	return nil
}

func (c *wsConn) Fetch() (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	m, err := decodeFrame(data)
	if err != nil {
		return Message{}, &herr.TransportError{URI: c.uri, Err: err}
	}
	return m, nil
}

func (c *wsConn) Close() error { return c.ws.Close() }

// ServeWS runs a single-connection websocket endpoint at /tensor on addr
// and returns the accepted framed connection. Used by the serving side of
// a ws: binding.
func ServeWS(addr string, opts Options) (Conn, error) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	accepted := make(chan *websocket.Conn, 1)
	errc := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/tensor", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case ws := <-accepted:
		return &wsConn{uri: "ws:" + addr, ws: ws, opts: opts}, nil
	case err := <-errc:
		return nil, &herr.TransportError{URI: "ws:" + addr, Err: err}
	}
}
