// Package session drives one interactive generation run: it owns the
// transport to the agent backend, classifies the stream into transcript
// sections, walks the lifecycle state machine, and persists the finished
// conversation to history.
package session

import "context"

// Transport is one established stream to the agent backend. Recv returns one
// raw line or frame at a time; a clean end of stream is io.EOF, anything else
// is a dropped connection. Send delivers a client frame; one-way transports
// reject it.
type Transport interface {
	Recv(ctx context.Context) (string, error)
	Send(ctx context.Context, frame string) error
	Close() error
}

// Dialer opens a Transport for a prompt. The prompt is delivered as part of
// the handshake, so by the time Dial returns the agent is already running.
type Dialer interface {
	Dial(ctx context.Context, prompt string) (Transport, error)
}
