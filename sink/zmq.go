package sink

import (
	"fmt"

	zmq "github.com/pebbe/zmq4"

	"github.com/gilbo123/spincam/spin"
)

// ZMQSink publishes frames on a ZMQ PUB socket for live consumers.  Each
// frame is one multipart message: stem, pixel format, "WxH", raw pixels.
// Subscribers that fall behind drop messages, which is the right policy for
// a live preview.
type ZMQSink struct {
	sock *zmq.Socket
	addr string
}

// NewZMQSink binds a PUB socket on o.Addr, e.g. "tcp://*:5555".
func NewZMQSink(o Options) (*ZMQSink, error) {
	if o.Addr == "" {
		return nil, fmt.Errorf("zmq sink requires a bind address")
	}
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(o.Addr); err != nil {
		sock.Close()
		return nil, err
	}
	return &ZMQSink{sock: sock, addr: o.Addr}, nil
}

// Endpoint implements Streamer.
func (s *ZMQSink) Endpoint() string { return s.addr }

// Write publishes one frame.
func (s *ZMQSink) Write(f spin.Frame, stem string) error {
	dims := fmt.Sprintf("%dx%d", f.Width(), f.Height())
	_, err := s.sock.SendMessage(stem, f.PixelFormat(), dims, f.Data())
	return err
}

// Close closes the socket.
func (s *ZMQSink) Close() error { return s.sock.Close() }
