// Package relay is the server side of the wire protocol: it accepts a prompt,
// runs an agent, and forwards the agent's line-oriented output to the client
// over a duplex WebSocket or a one-way SSE stream, including the
// input-request handshake for human-in-the-loop questions.
package relay

import "context"

// Agent is the opaque collaborator behind the relay. Run streams log lines
// through emit and may block on ask to pose a question to the human; ask
// returns the reply, or an error when the transport cannot carry questions or
// the client went away.
type Agent interface {
	Run(ctx context.Context, prompt string, emit func(line string), ask func(question string) (string, error)) error
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, prompt string, emit func(string), ask func(string) (string, error)) error

func (f AgentFunc) Run(ctx context.Context, prompt string, emit func(string), ask func(string) (string, error)) error {
	return f(ctx, prompt, emit, ask)
}
