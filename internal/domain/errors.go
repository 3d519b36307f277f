package domain

import (
	"errors"
	"fmt"
)

// JoinReason classifies a failed join, matching the relay's join_error wire
// values.
type JoinReason string

const (
	JoinNotFound JoinReason = "not_found"
	JoinFull     JoinReason = "full"
	JoinUnknown  JoinReason = "unknown"
)

// JoinError is the typed outcome of a rejected join_key.
type JoinError struct {
	Reason JoinReason
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join rejected: %s", e.Reason)
}

// MediaAcquisitionError wraps a device capture failure. Terminal for the
// attempted operation only; session state is untouched.
type MediaAcquisitionError struct {
	Kind CallKind
	Err  error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition for %s call: %v", e.Kind, e.Err)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Err }

// CallRejectedError is the peer-reported outcome of a declined invite.
type CallRejectedError struct {
	Reason RejectReason
}

func (e *CallRejectedError) Error() string {
	return fmt.Sprintf("call rejected: %s", e.Reason)
}

// NegotiationError wraps an offer/answer/description-application failure.
// It aborts the in-flight negotiation back to idle.
type NegotiationError struct {
	Stage string
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

var (
	// ErrChannelNotReady is returned by chat sends while the channel is
	// not in an open-ready state.
	ErrChannelNotReady = errors.New("chat channel not ready")

	// ErrNotCaller rejects call starts from the receiver side without
	// contacting the peer.
	ErrNotCaller = errors.New("only the caller may start calls")

	// ErrCallInProgress rejects a new invite while local media exists.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNoSession is returned for operations that require a joined room.
	ErrNoSession = errors.New("no active session")

	// ErrNoIncomingCall rejects accept/reject with no pending invite.
	ErrNoIncomingCall = errors.New("no incoming call to answer")

	// ErrSessionActive rejects generate/join while already in a room.
	ErrSessionActive = errors.New("session already active")
)
