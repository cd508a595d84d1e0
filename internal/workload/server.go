package workload

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
)

const (
	DefaultServerHost = "0.0.0.0"
	DefaultBacklog    = 4096
	ProgressInterval  = 10000
)

// Server accepts connections and closes them immediately.
type Server struct {
	listener net.Listener
	accepted atomic.Uint64
}

// Listen binds host:port with address and port reuse enabled and the given
// listen backlog. Port 0 picks an ephemeral port.
func Listen(host string, port, backlog int) (*Server, error) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	ln, err := listenTCP(host, port, backlog)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s:%d: %w", host, port, err)
	}
	return &Server{listener: ln}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Serve runs the accept loop until ctx is cancelled or Accept fails. The
// listener is closed on return and the final count is always reported; a
// non-nil error means the loop ended on a transport error rather than on
// cancellation.
func (s *Server) Serve(ctx context.Context) (uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		s.listener.Close()
	})
	defer stop()
	defer s.listener.Close()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return s.Accepted(), nil
			}
			return s.Accepted(), fmt.Errorf("accept failed: %w", err)
		}
		conn.Close()

		n := s.accepted.Add(1)
		if n%ProgressInterval == 0 {
			slog.Info("Connections accepted", "count", n)
		}
	}
}
