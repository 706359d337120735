// Package server runs the daemon's Unix domain socket accept loop,
// dispatching every framed message it reads to the engine and writing
// back the engine's response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/homardcloud/cronos/internal/engine"
	"github.com/homardcloud/cronos/internal/proto"
	"github.com/homardcloud/cronos/internal/safego"
)

// Server listens on a Unix domain socket and hands every connection's
// messages to an Engine.
type Server struct {
	socketPath string
	engine     *engine.Engine

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a server that will listen at socketPath and dispatch to
// engine.
func New(socketPath string, e *engine.Engine) *Server {
	return &Server{socketPath: socketPath, engine: e}
}

// Run binds the socket and accepts connections until ctx is canceled.
// A stale socket file left behind by an unclean shutdown is removed
// before binding, mirroring the original daemon's startup behavior.
func (s *Server) Run(ctx context.Context) error {
	if dir := filepath.Dir(s.socketPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("server: create socket dir: %w", err)
		}
	}
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Info().Str("path", s.socketPath).Msg("listening on unix socket")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection reads frames from conn in a loop, dispatching each
// to the engine and writing back the response, until the peer closes
// the connection or a framing error occurs. A complete frame whose
// payload is malformed JSON or an unknown message kind is answered with
// an invalid_message Error (with an empty id, since none could be read)
// and the loop continues.
func (s *Server) handleConnection(conn net.Conn) {
	defer safego.Recover("connection handler")
	defer conn.Close()
	for {
		msg, err := proto.ReadFrame(conn)
		if err != nil {
			var syntaxErr *json.SyntaxError
			if errors.Is(err, proto.ErrInvalidMessage) || errors.As(err, &syntaxErr) {
				if werr := proto.WriteFrame(conn, proto.NewError("", proto.ErrorCodeInvalidMessage, err.Error())); werr != nil {
					log.Debug().Err(werr).Msg("failed to write response frame")
					return
				}
				continue
			}
			if !errors.Is(err, proto.ErrConnectionClosed) {
				log.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		response := s.engine.HandleMessage(msg)

		if err := proto.WriteFrame(conn, response); err != nil {
			log.Debug().Err(err).Msg("failed to write response frame")
			return
		}
	}
}

// Addr returns the bound listener's address, or nil if Run hasn't
// bound the socket yet. Useful for tests that bind an ephemeral path.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
