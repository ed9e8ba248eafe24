// Package server implements the control-protocol accept loop (C3, §4.3):
// one TCP listener, one session (C2) per accepted socket, and a graceful
// shutdown that asks every session to disconnect before hard-closing
// whatever is left after SHUTDOWN_GRACE.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/ids"
	"github.com/srg/bleproxy/internal/session"
	"github.com/srg/bleproxy/internal/wire"
	"github.com/srg/bleproxy/internal/wireproto"
)

// DefaultShutdownGrace is SHUTDOWN_GRACE (§5): how long Serve waits for
// outboxes to drain after asking every session to disconnect.
const DefaultShutdownGrace = 5 * time.Second

// ErrShutdownGraceExpired closes any session still open once
// SHUTDOWN_GRACE has elapsed during shutdown.
var ErrShutdownGraceExpired = errors.New("server: shutdown grace period expired")

// SessionFactory builds a session.Config for a freshly accepted socket. The
// coordinator (C10) supplies this, wiring OnMessage/OnStreamOverflow so the
// server itself stays ignorant of control-message semantics — it only
// knows how to move frames.
type SessionFactory func(id ids.SessionID) session.Config

// Server owns the accept loop and the set of live sessions.
type Server struct {
	host          string
	port          int
	shutdownGrace time.Duration
	newSession    SessionFactory
	logger        *logrus.Logger
	codec         wireproto.Codec
	listenConfig  net.ListenConfig

	mu       sync.Mutex
	listener net.Listener
	sessions map[ids.SessionID]*session.Session

	wg sync.WaitGroup
}

// New returns a Server bound to host:port once Serve is called.
// shutdownGrace <= 0 defaults to DefaultShutdownGrace.
func New(host string, port int, shutdownGrace time.Duration, newSession SessionFactory, logger *logrus.Logger) *Server {
	if shutdownGrace <= 0 {
		shutdownGrace = DefaultShutdownGrace
	}
	return &Server{
		host:          host,
		port:          port,
		shutdownGrace: shutdownGrace,
		newSession:    newSession,
		logger:        logger,
		codec:         wireproto.NewCodec(),
		sessions:      make(map[ids.SessionID]*session.Session),
		listenConfig: net.ListenConfig{
			Control: setReuseAddr,
		},
	}
}

// setReuseAddr sets SO_REUSEADDR on the listening socket so a restarted
// daemon can rebind its control port immediately instead of waiting out
// TIME_WAIT.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// SessionCount returns the number of currently live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Addr returns the listener's bound address, or nil before Serve has bound
// it. Useful in tests that bind to port 0 and need the chosen port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve binds the listener and accepts connections until ctx is cancelled,
// then runs the graceful-shutdown sequence described in §4.3 before
// returning.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.listenConfig.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.WithField("addr", ln.Addr().String()).Info("control server listening")
	}

	groutine.GoWG(ctx, &s.wg, "server-accept", func(ctx context.Context) {
		s.acceptLoop(ctx, ln)
	})

	<-ctx.Done()
	return s.shutdown()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if s.logger != nil {
				s.logger.WithError(err).Warn("accept failed")
			}
			return
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(parentCtx context.Context, conn net.Conn) {
	id := ids.NewSessionID()
	cfg := s.newSession(id)
	cfg.ID = id
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	sess := session.New(cfg)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	// connCtx is not derived from parentCtx: the writer must keep draining
	// the outbox after Serve's ctx is cancelled so shutdown's DisconnectReq
	// reaches the peer. It ends when the session closes.
	connCtx, cancel := context.WithCancel(context.Background())
	sess.Run(connCtx)

	groutine.GoWG(parentCtx, &s.wg, "session-reader-"+string(id), func(context.Context) {
		s.readLoop(conn, sess)
	})
	groutine.GoWG(parentCtx, &s.wg, "session-writer-"+string(id), func(context.Context) {
		s.writeLoop(connCtx, conn, sess)
	})
	groutine.GoWG(parentCtx, &s.wg, "session-closer-"+string(id), func(context.Context) {
		<-sess.Done()
		cancel()
		_ = conn.Close()
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	})
}

func (s *Server) readLoop(conn net.Conn, sess *session.Session) {
	r := wire.NewReader(conn)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			sess.Close(err)
			return
		}
		msg, err := s.codec.Decode(wireproto.MsgType(frame.MsgType), frame.Payload)
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).WithField("session", sess.ID()).Warn("malformed frame")
			}
			sess.Close(err)
			return
		}
		if err := sess.Dispatch(msg); err != nil && s.logger != nil {
			s.logger.WithError(err).WithField("session", sess.ID()).Warn("message rejected by session state")
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn net.Conn, sess *session.Session) {
	w := wire.NewWriter(conn)
	for {
		msg, ok := sess.Next(ctx)
		if !ok {
			return
		}
		payload, err := s.codec.Encode(msg)
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).WithField("session", sess.ID()).Error("encode failed")
			}
			continue
		}
		if err := w.WriteFrame(uint32(msg.MsgType()), payload); err != nil {
			sess.Close(err)
			return
		}
	}
}

// shutdown implements §4.3's shutdown sequence: stop accepting, ask every
// live session to disconnect, wait up to shutdownGrace for outboxes to
// drain, then hard-close whatever remains.
func (s *Server) shutdown() error {
	s.mu.Lock()
	ln := s.listener
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	for _, sess := range sessions {
		sess.Send(&wireproto.DisconnectReq{})
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.shutdownGrace):
		s.mu.Lock()
		remaining := make([]*session.Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			remaining = append(remaining, sess)
		}
		s.mu.Unlock()
		for _, sess := range remaining {
			sess.Close(ErrShutdownGraceExpired)
		}
		<-done
		return nil
	}
}
