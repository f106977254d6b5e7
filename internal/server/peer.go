package server

import (
	"errors"
	"fmt"
	"strings"

	"yave.dev/internal/protocol"
)

// Peer is a connected client as seen by the world loop. Addr identifies the peer
// for its whole session; Send must not block on a slow client.
type Peer interface {
	Addr() string
	Send(p protocol.Packet) error
}

// SendFailure is one peer that could not be reached during a broadcast.
type SendFailure struct {
	Addr string
	Kind protocol.Kind
	Err  error
}

func (f SendFailure) Error() string {
	return fmt.Sprintf("send %s to %s: %v", f.Kind, f.Addr, f.Err)
}

func (f SendFailure) Unwrap() error { return f.Err }

// BroadcastError collects every failed delivery of a tick. A broadcast attempts
// every peer regardless of earlier failures.
type BroadcastError struct {
	Failures []SendFailure
}

func (e *BroadcastError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	return fmt.Sprintf("%d sends failed: %s", len(e.Failures), strings.ReplaceAll(errors.Join(e.Unwrap()...).Error(), "\n", "; "))
}

func (e *BroadcastError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

func (e *BroadcastError) add(peer Peer, p protocol.Packet, err error) {
	e.Failures = append(e.Failures, SendFailure{Addr: peer.Addr(), Kind: p.Kind(), Err: err})
}

// errOrNil avoids handing out a typed nil.
func (e *BroadcastError) errOrNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}

// broadcast sends p to every peer and records failures in errs.
func broadcast(peers []Peer, p protocol.Packet, errs *BroadcastError) {
	for _, peer := range peers {
		if err := peer.Send(p); err != nil {
			errs.add(peer, p, err)
		}
	}
}
