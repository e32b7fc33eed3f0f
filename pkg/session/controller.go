package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/navaai/relay/pkg/bus"
	relayerrors "github.com/navaai/relay/pkg/errors"
	"github.com/navaai/relay/pkg/history"
	"github.com/navaai/relay/pkg/logging"
	"github.com/navaai/relay/pkg/stream"
	"github.com/navaai/relay/pkg/transcript"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateStreaming     State = "streaming"
	StateAwaitingInput State = "awaiting_input"
	StateCompleted     State = "completed"
	StateErrored       State = "errored"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether the state ends the run. A terminal controller is
// spent; the caller starts a new one for the next run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

// Controller drives one generation run end to end. Events are processed
// synchronously, one at a time, on the read loop goroutine; there is no
// parallel event processing within a session. Multiple controllers may run
// concurrently; they share only the history store.
//
// State and the current-message cursor are explicit fields, and every
// operation validates the state it requires before acting.
type Controller struct {
	mu sync.Mutex

	state     State
	session   history.Session
	currentID string // ID of the agent message receiving events
	builder   *transcript.Builder

	dialer    Dialer
	transport Transport
	store     *history.Store
	bus       bus.MessageBus
	logger    *logging.Logger
	onChange  func()

	cancelRun context.CancelFunc
	done      chan struct{}
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger attaches a structured logger.
func WithControllerLogger(logger *logging.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// WithOnChange registers a callback invoked after every transcript or state
// mutation, for view redraws. Called with the controller lock released.
func WithOnChange(fn func()) ControllerOption {
	return func(c *Controller) { c.onChange = fn }
}

// NewController creates an idle controller. The store receives the finished
// session; the bus carries the change signal to sibling views.
func NewController(dialer Dialer, store *history.Store, b bus.MessageBus, opts ...ControllerOption) *Controller {
	c := &Controller{
		state:  StateIdle,
		dialer: dialer,
		store:  store,
		bus:    b,
		logger: logging.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the run reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Session returns a snapshot of the in-flight session, current transcript
// included.
func (c *Controller) Session() history.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
	return snapshotSession(c.session)
}

// Sections returns the section list of the agent message currently receiving
// events.
func (c *Controller) Sections() []transcript.Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.builder == nil {
		return nil
	}
	return c.builder.Sections()
}

// Start begins a run. Valid only from Idle; the prompt must be non-empty.
// The controller connects, then streams until the terminal sentinel, an
// error, or Cancel.
func (c *Controller) Start(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return relayerrors.New(relayerrors.ErrCodeInvalidState, "start requires an idle controller").
			WithContext("state", string(state))
	}
	if prompt == "" {
		c.mu.Unlock()
		return relayerrors.New(relayerrors.ErrCodeInvalidInput, "prompt cannot be empty")
	}

	now := time.Now()
	c.state = StateConnecting
	c.session = history.Session{
		ID:        uuid.NewString(),
		Title:     history.TitleFrom(prompt),
		CreatedAt: now,
		IsDraft:   c.store.DraftMode(),
	}
	c.session.Messages = append(c.session.Messages, history.Message{
		ID:        uuid.NewString(),
		Role:      history.RoleUser,
		Content:   prompt,
		Timestamp: now,
	})
	c.openAgentMessageLocked("")
	sessionID := c.session.ID
	c.mu.Unlock()
	c.notifyChange()

	c.logger.Info(logging.CategorySession, "session_started", "run started", map[string]any{
		"session_id": sessionID,
	})

	transport, err := c.dialer.Dial(ctx, prompt)
	if err != nil {
		c.fail(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.state.Terminal() {
		// Cancelled while dialing.
		c.mu.Unlock()
		cancel()
		_ = transport.Close()
		return nil
	}
	c.transport = transport
	c.cancelRun = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Reply answers a pending agent question. Valid only from AwaitingInput: the
// text is sent as a control frame, recorded as a user message, and a fresh
// agent message is opened for the resumed stream.
func (c *Controller) Reply(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state != StateAwaitingInput {
		state := c.state
		c.mu.Unlock()
		return relayerrors.New(relayerrors.ErrCodeInvalidState, "reply requires a pending input request").
			WithContext("state", string(state))
	}
	transport := c.transport
	c.mu.Unlock()

	if err := transport.Send(ctx, stream.EncodeUserInput(text)); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.session.Messages = append(c.session.Messages, history.Message{
		ID:        uuid.NewString(),
		Role:      history.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	c.openAgentMessageLocked("")
	c.state = StateStreaming
	c.mu.Unlock()
	c.notifyChange()

	c.logger.Info(logging.CategorySession, "input_sent", "user reply forwarded", nil)
	return nil
}

// Cancel ends the run from any non-terminal state. The transport is closed,
// builder state is frozen as-is, and the partial session is persisted.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state.Terminal() {
		state := c.state
		c.mu.Unlock()
		return relayerrors.New(relayerrors.ErrCodeInvalidState, "run already finished").
			WithContext("state", string(state))
	}
	fromIdle := c.state == StateIdle
	c.state = StateCancelled
	transport := c.transport
	cancel := c.cancelRun
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if transport != nil {
		_ = transport.Close()
	}

	if fromIdle {
		close(c.done)
		c.notifyChange()
		return nil
	}

	c.logger.Info(logging.CategorySession, "session_cancelled", "run cancelled by user", nil)
	c.finalize()
	return nil
}

// run is the read loop: one goroutine per run, events handled strictly in
// arrival order.
func (c *Controller) run(ctx context.Context) {
	for {
		line, err := c.transport.Recv(ctx)
		if err != nil {
			c.handleRecvError(err)
			return
		}
		if done := c.handleLine(line); done {
			return
		}
	}
}

// handleLine processes one raw frame. Returns true when the run reached a
// terminal state.
func (c *Controller) handleLine(line string) bool {
	if stream.IsSentinel(line) {
		c.complete()
		return true
	}

	if frame, ok := stream.ParseControl(line); ok {
		return c.handleControl(frame)
	}

	ev, ok := stream.Classify(line)
	if !ok {
		return false
	}

	c.mu.Lock()
	switch c.state {
	case StateAwaitingInput:
		// The backend must not stream while a question is pending.
		c.mu.Unlock()
		c.logger.Warn(logging.CategoryStream, "anomaly", "event received while awaiting input", map[string]any{
			"line": line,
		})
		return false
	case StateConnecting:
		c.state = StateStreaming
	case StateStreaming:
	default:
		c.mu.Unlock()
		return true
	}

	c.builder.Add(ev)
	c.flushLocked()
	isError := ev.Kind == stream.KindError
	c.mu.Unlock()
	c.notifyChange()

	if isError {
		// The backend reported a failure; the error section it produced is the
		// terminal section of this run.
		c.mu.Lock()
		if c.state.Terminal() {
			c.mu.Unlock()
			return true
		}
		c.state = StateErrored
		transport := c.transport
		c.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		c.logger.Error(logging.CategorySession, "agent_error", line, nil)
		c.finalize()
		return true
	}
	return false
}

func (c *Controller) handleControl(frame stream.ControlFrame) bool {
	if frame.Type != stream.ControlInputRequest {
		c.logger.Warn(logging.CategoryStream, "anomaly", "unexpected control frame", map[string]any{
			"type": frame.Type,
		})
		return false
	}

	c.mu.Lock()
	if c.state != StateStreaming && c.state != StateConnecting {
		c.mu.Unlock()
		c.logger.Warn(logging.CategoryStream, "anomaly", "input request outside streaming", nil)
		return false
	}
	c.flushLocked()
	c.openAgentMessageLocked(frame.Content)
	c.state = StateAwaitingInput
	c.mu.Unlock()
	c.notifyChange()

	c.logger.Info(logging.CategorySession, "input_requested", frame.Content, nil)
	return false
}

func (c *Controller) handleRecvError(err error) {
	c.mu.Lock()
	terminal := c.state.Terminal()
	c.mu.Unlock()
	if terminal {
		// Cancel already closed the transport; the read error is expected.
		return
	}

	if errors.Is(err, io.EOF) {
		c.complete()
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	c.fail(err)
}

// complete handles the terminal sentinel.
func (c *Controller) complete() {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateCompleted
	transport := c.transport
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	c.logger.Info(logging.CategorySession, "session_completed", "run completed", nil)
	c.finalize()
}

// fail transitions to Errored with a synthetic terminal error section. There
// is no automatic reconnect; the caller starts a new run.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateErrored
	if c.builder != nil {
		if ev, ok := stream.Classify(stream.MarkerFailure + " Error: " + err.Error()); ok {
			c.builder.Add(ev)
		}
		c.flushLocked()
	}
	transport := c.transport
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	c.logger.Error(logging.CategorySession, "session_errored", err.Error(), map[string]any{
		"code": string(relayerrors.GetCode(err)),
	})
	c.finalize()
}

// finalize freezes the transcript, hashes it, persists the session, and
// signals sibling views. Runs exactly once per controller.
func (c *Controller) finalize() {
	c.mu.Lock()
	terminal := c.state
	c.flushLocked()
	c.dropEmptyTailLocked()
	c.session.LastUpdated = time.Now()
	c.session.ContentHash = history.HashTranscript(c.session.Messages)
	session := snapshotSession(c.session)
	c.mu.Unlock()

	if err := c.store.Upsert(session); err != nil {
		c.logger.Error(logging.CategoryHistory, "persist_failed", err.Error(), nil)
	}
	if c.bus != nil {
		ctx := context.Background()
		_ = c.bus.Publish(ctx, bus.SubjectHistoryChanged, nil)
		_ = c.bus.Publish(ctx, bus.SubjectSessionPrefix+session.ID+"."+string(terminal), nil)
	}

	close(c.done)
	c.notifyChange()
}

// openAgentMessageLocked appends a fresh agent message and resets the builder
// so subsequent events land in the new message.
func (c *Controller) openAgentMessageLocked(content string) {
	msg := history.Message{
		ID:        uuid.NewString(),
		Role:      history.RoleAgent,
		Content:   content,
		Timestamp: time.Now(),
	}
	c.session.Messages = append(c.session.Messages, msg)
	c.currentID = msg.ID
	c.builder = transcript.NewBuilder()
}

// flushLocked copies the builder's sections onto the current agent message.
func (c *Controller) flushLocked() {
	if c.builder == nil || c.currentID == "" {
		return
	}
	for i := range c.session.Messages {
		if c.session.Messages[i].ID == c.currentID {
			c.session.Messages[i].Logs = c.builder.Sections()
			return
		}
	}
}

// dropEmptyTailLocked removes a trailing agent message that never received
// content or events, so an aborted turn does not leave a blank entry.
func (c *Controller) dropEmptyTailLocked() {
	n := len(c.session.Messages)
	if n == 0 {
		return
	}
	last := c.session.Messages[n-1]
	if last.Role == history.RoleAgent && last.Content == "" && len(last.Logs) == 0 {
		c.session.Messages = c.session.Messages[:n-1]
		c.currentID = ""
	}
}

func (c *Controller) notifyChange() {
	if c.onChange != nil {
		c.onChange()
	}
}

func snapshotSession(s history.Session) history.Session {
	out := s
	out.Messages = make([]history.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	for i := range out.Messages {
		if len(s.Messages[i].Logs) > 0 {
			logs := make([]transcript.Section, len(s.Messages[i].Logs))
			copy(logs, s.Messages[i].Logs)
			out.Messages[i].Logs = logs
		}
	}
	return out
}
