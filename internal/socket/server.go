package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
)

// Server listens on the control socket and invokes the provided callback
// for each request.
type Server struct {
	log        *slog.Logger
	cb         func(context.Context, *Request) *Response
	socketPath string
}

func NewServer(logger *slog.Logger, socketName string, cb func(context.Context, *Request) *Response) (*Server, error) {
	path, err := Path(socketName)
	if err != nil {
		return nil, err
	}

	return &Server{
		log:        logger,
		cb:         cb,
		socketPath: path,
	}, nil
}

func (s *Server) Close() error {
	return os.Remove(s.socketPath)
}

func (s *Server) Serve(ctx context.Context) error {
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		fd, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("l.Accept", "error", err)
			continue
		}

		s.handle(ctx, fd)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	req := new(Request)
	err := json.NewDecoder(conn).Decode(req)
	if err != nil {
		s.log.Error("decoding control request", "error", err)
		return
	}

	resp := s.cb(ctx, req)
	if resp == nil {
		resp = &Response{OK: true}
	}

	err = json.NewEncoder(conn).Encode(resp)
	if err != nil {
		s.log.Error("encoding control response", "error", err)
	}
}
