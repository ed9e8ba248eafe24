// Package session implements the control-session state machine (C2, §4.2):
// per-socket Hello/Connect/Disconnect/Ping mechanics, an outbox that never
// blocks its producer, and the ping/pong keepalive. Everything beyond the
// built-in handshake messages (GATT ops, entity listing, subscriptions) is
// handed to Config.OnMessage, which the coordinator (C10) wires up.
//
// The outbox split follows the teacher's internal/lua output collector: a
// hedzr/go-ringbuf overlapped ring buffer silently drops its oldest entry on
// overflow, which is exactly the semantics §4.2 asks for on the
// subscription-stream side (raw advertisements, GATT notifications) — never
// block the producer, never block the peer's read loop waiting on a slow
// client. Request/response replies go through a second, non-overwriting
// channel instead: if that one is ever full, the session is broken and
// closes fatally rather than silently dropping a reply the peer is waiting
// on.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleproxy/internal/groutine"
	"github.com/srg/bleproxy/internal/ids"
	"github.com/srg/bleproxy/internal/wireproto"
)

// State is one node of the control session's state machine.
type State int

const (
	// StateHelloSent is the initial state: only HelloReq is accepted.
	StateHelloSent State = iota
	// StateConnected accepts ConnectReq, DeviceInfoReq (password-gated),
	// DisconnectReq and PingReq/Resp.
	StateConnected
	// StateAuthenticated accepts every message type.
	StateAuthenticated
	// StateClosing accepts nothing; the outbox drains then the socket closes.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateHelloSent:
		return "hello_sent"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// DefaultPingTimeout is PING_TIMEOUT (§5): the peer must pong within this
// long, or the ping tick counts as missed.
const DefaultPingTimeout = 90 * time.Second

// maxMissedPongs is the number of consecutive missed pongs that forces the
// session to Closing (§4.2).
const maxMissedPongs = 3

const (
	responseOutboxCapacity = 64
	streamOutboxCapacity   = 256
)

// IsStreamMessage reports whether msg belongs to a droppable subscription
// stream (raw advertisement batches, GATT notifications) rather than a
// non-droppable request/response reply.
func IsStreamMessage(msg wireproto.Message) bool {
	switch msg.(type) {
	case *wireproto.BleRawAdsResp, *wireproto.GattNotifyDataResp:
		return true
	default:
		return false
	}
}

// Config configures one Session. Password == "" means the daemon has no
// password configured, which relaxes DeviceInfoReq to be acceptable from
// StateConnected as well as StateAuthenticated (§4.2, §9).
type Config struct {
	ID         ids.SessionID
	Password   string
	ServerName string
	ServerInfo string

	PingTimeout time.Duration

	// OnMessage handles every message not handled by the built-in
	// handshake/ping mechanics, once Dispatch has confirmed the current
	// state accepts it.
	OnMessage func(s *Session, msg wireproto.Message)

	// OnStreamOverflow fires when the stream outbox drops a message for
	// lack of room. The coordinator responds by unsubscribing this
	// session's ads/notify streams (but not its scanner-state
	// subscription) and enqueuing a ScannerStateResp so the peer learns
	// its subscription lapsed.
	OnStreamOverflow func(s *Session)

	// OnClose fires once, the first time the session transitions to
	// StateClosing, with the reason (nil for a clean peer-initiated
	// disconnect).
	OnClose func(s *Session, reason error)

	Logger *logrus.Logger
}

// Session is one control-protocol socket's state machine and outbox. It
// does no I/O itself: a server loop feeds it decoded frames via Dispatch and
// drains outbound ones via Next.
type Session struct {
	cfg Config

	mu    sync.Mutex
	state State

	responses chan wireproto.Message
	streamBuf mpmc.RichOverlappedRingBuffer[wireproto.Message]
	notify    chan struct{}

	pingMu      sync.Mutex
	missedPongs int

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New returns a Session in StateHelloSent.
func New(cfg Config) *Session {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	return &Session{
		cfg:       cfg,
		state:     StateHelloSent,
		responses: make(chan wireproto.Message, responseOutboxCapacity),
		streamBuf: mpmc.NewOverlappedRingBuffer[wireproto.Message](streamOutboxCapacity),
		notify:    make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

// ID returns the session's correlation identifier.
func (s *Session) ID() ids.SessionID { return s.cfg.ID }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Run starts the session's background keepalive loop. The caller is
// expected to also run its own read loop feeding Dispatch and write loop
// draining Next; Run only owns the ping ticker.
func (s *Session) Run(ctx context.Context) {
	groutine.Go(ctx, "session-ping-"+string(s.cfg.ID), s.runPing)
}

func (s *Session) runPing(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			if s.State() == StateHelloSent {
				continue
			}
			s.pingMu.Lock()
			missed := s.missedPongs
			s.missedPongs++
			s.pingMu.Unlock()
			if missed >= maxMissedPongs {
				s.Close(ErrPingTimeout)
				return
			}
			s.Send(&wireproto.PingReq{})
		}
	}
}

func (s *Session) handlePong() {
	s.pingMu.Lock()
	s.missedPongs = 0
	s.pingMu.Unlock()
}

// Dispatch handles one incoming, already-decoded message. It returns
// ErrUnexpectedMessage if msg is not accepted in the current state, without
// mutating state or replying.
func (s *Session) Dispatch(msg wireproto.Message) error {
	state := s.State()
	if state == StateClosing {
		return ErrUnexpectedMessage
	}

	switch m := msg.(type) {
	case *wireproto.HelloReq:
		if state != StateHelloSent {
			return ErrUnexpectedMessage
		}
		s.setState(StateConnected)
		s.Send(&wireproto.HelloResp{
			APIVersionMajor: wireproto.APIVersionMajor,
			APIVersionMinor: wireproto.APIVersionMinor,
			ServerInfo:      s.cfg.ServerInfo,
			Name:            s.cfg.ServerName,
		})
		return nil

	case *wireproto.ConnectReq:
		if state != StateConnected {
			return ErrUnexpectedMessage
		}
		if m.Password != s.cfg.Password {
			s.Send(&wireproto.ConnectResp{InvalidPassword: true})
			s.Close(ErrInvalidPassword)
			return nil
		}
		s.setState(StateAuthenticated)
		s.Send(&wireproto.ConnectResp{})
		return nil

	case *wireproto.DisconnectReq:
		if state == StateHelloSent {
			return ErrUnexpectedMessage
		}
		s.Send(&wireproto.DisconnectResp{})
		s.Close(nil)
		return nil

	case *wireproto.PingReq:
		if state == StateHelloSent {
			return ErrUnexpectedMessage
		}
		s.Send(&wireproto.PingResp{})
		return nil

	case *wireproto.PingResp:
		if state == StateHelloSent {
			return ErrUnexpectedMessage
		}
		s.handlePong()
		return nil

	case *wireproto.DeviceInfoReq:
		allowed := state == StateAuthenticated || (state == StateConnected && s.cfg.Password == "")
		if !allowed {
			return ErrUnexpectedMessage
		}
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(s, msg)
		}
		return nil

	default:
		if state != StateAuthenticated {
			return ErrUnexpectedMessage
		}
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(s, msg)
		}
		return nil
	}
}

// Send enqueues an outbound message. Subscription-stream messages
// (BleRawAdsResp, GattNotifyDataResp) are dropped, silently overwriting the
// oldest pending one, if the stream outbox is full; Config.OnStreamOverflow
// is then invoked so the coordinator can unsubscribe the offending streams.
// Every other message is never dropped: if the response outbox is full the
// session closes with ErrBackpressureFatal.
func (s *Session) Send(msg wireproto.Message) {
	select {
	case <-s.closed:
		return
	default:
	}

	if IsStreamMessage(msg) {
		overwrites, err := s.streamBuf.EnqueueM(msg)
		if err != nil {
			s.Close(err)
			return
		}
		if overwrites > 0 && s.cfg.OnStreamOverflow != nil {
			s.cfg.OnStreamOverflow(s)
		}
		s.signal()
		return
	}

	select {
	case s.responses <- msg:
		s.signal()
	default:
		s.Close(ErrBackpressureFatal)
	}
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) tryNext() (wireproto.Message, bool) {
	select {
	case msg := <-s.responses:
		return msg, true
	default:
	}
	if !s.streamBuf.IsEmpty() {
		if msg, err := s.streamBuf.Dequeue(); err == nil {
			return msg, true
		}
	}
	return nil, false
}

// Next blocks for the next outbound message, response traffic taking
// priority over stream traffic. It returns ok == false once ctx is
// cancelled or the session has closed and its outbox is drained.
func (s *Session) Next(ctx context.Context) (msg wireproto.Message, ok bool) {
	for {
		if msg, ok = s.tryNext(); ok {
			return msg, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-s.closed:
			if msg, ok = s.tryNext(); ok {
				return msg, true
			}
			return nil, false
		case <-s.notify:
		}
	}
}

// Close transitions the session to StateClosing and invokes Config.OnClose
// exactly once. Safe to call multiple times and from multiple goroutines.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.closeErr = reason
		close(s.closed)
		if s.cfg.Logger != nil {
			s.cfg.Logger.WithField("session", string(s.cfg.ID)).WithError(reason).Info("session closing")
		}
		if s.cfg.OnClose != nil {
			s.cfg.OnClose(s, reason)
		}
	})
}

// Err returns the reason Close was called with, or nil if still open or
// closed cleanly.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Done reports a channel closed once the session has closed.
func (s *Session) Done() <-chan struct{} { return s.closed }
