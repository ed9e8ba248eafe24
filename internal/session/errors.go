package session

import "errors"

// ErrUnexpectedMessage is returned by Dispatch when a message arrives in a
// state that does not accept it (§4.2's per-state acceptance table).
var ErrUnexpectedMessage = errors.New("session: message not accepted in current state")

// ErrInvalidPassword closes a session whose ConnectReq carried the wrong
// password.
var ErrInvalidPassword = errors.New("session: invalid password")

// ErrPingTimeout closes a session that missed three consecutive pongs.
var ErrPingTimeout = errors.New("session: ping timeout")

// ErrBackpressureFatal closes a session whose outbox was full for a
// non-subscription reply. Subscription-stream messages never trigger this;
// they are dropped instead (see IsStreamMessage).
var ErrBackpressureFatal = errors.New("session: outbox full for non-droppable message")

// ErrClosed is returned by Send/Dispatch once the session has closed.
var ErrClosed = errors.New("session: closed")
