package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navaai/relay/pkg/bus"
	relayerrors "github.com/navaai/relay/pkg/errors"
	"github.com/navaai/relay/pkg/history"
	"github.com/navaai/relay/pkg/stream"
	"github.com/navaai/relay/pkg/transcript"
)

type recvResult struct {
	line string
	err  error
}

// fakeTransport is a scripted transport: tests feed frames in, and capture
// frames sent by the controller.
type fakeTransport struct {
	incoming chan recvResult

	mu     sync.Mutex
	sent   []string
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan recvResult, 16)}
}

func (f *fakeTransport) push(line string)  { f.incoming <- recvResult{line: line} }
func (f *fakeTransport) pushErr(err error) { f.incoming <- recvResult{err: err} }
func (f *fakeTransport) finish()           { f.incoming <- recvResult{err: io.EOF} }

func (f *fakeTransport) Recv(ctx context.Context) (string, error) {
	select {
	case r := <-f.incoming:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeTransport) Send(ctx context.Context, frame string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeDialer struct {
	transport *fakeTransport
	err       error
}

func (d *fakeDialer) Dial(ctx context.Context, prompt string) (Transport, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func newTestController(t *testing.T) (*Controller, *fakeTransport, *history.Store) {
	t.Helper()
	transport := newFakeTransport()
	store := history.NewStore(history.NewMemoryBackend())
	ctrl := NewController(&fakeDialer{transport: transport}, store, bus.NewMemoryBus())
	return ctrl, transport, store
}

func waitTerminal(t *testing.T, ctrl *Controller) {
	t.Helper()
	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not reach a terminal state, stuck in %s", ctrl.State())
	}
}

func TestController_CompletedRun(t *testing.T) {
	ctrl, transport, store := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "Build a parser"))

	transport.push("🧠 Processing prompt...")
	transport.push("⚙️ Selecting tools")
	transport.push("🧩 Reasoning about approach")
	transport.push(stream.Sentinel)

	waitTerminal(t, ctrl)
	assert.Equal(t, StateCompleted, ctrl.State())

	sessions, err := store.List(history.FilterAll)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	sess := sessions[0]
	assert.Equal(t, "Build a parser", sess.Title)
	assert.NotEmpty(t, sess.ContentHash)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, history.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, history.RoleAgent, sess.Messages[1].Role)
	require.Len(t, sess.Messages[1].Logs, 3)
	assert.Equal(t, transcript.TitleTools, sess.Messages[1].Logs[1].Title)
}

func TestController_InputRequestAndReply(t *testing.T) {
	ctrl, transport, store := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "Deploy the service"))

	transport.push("🧠 Processing prompt...")
	transport.push(`{"type":"input_request","content":"Which port?"}`)

	require.Eventually(t, func() bool {
		return ctrl.State() == StateAwaitingInput
	}, 2*time.Second, 10*time.Millisecond)

	// The question is surfaced as a fresh agent message.
	sess := ctrl.Session()
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, history.RoleAgent, last.Role)
	assert.Equal(t, "Which port?", last.Content)

	require.NoError(t, ctrl.Reply(context.Background(), "8080"))
	assert.Equal(t, StateStreaming, ctrl.State())

	frames := transport.sentFrames()
	require.Len(t, frames, 1)
	frame, ok := stream.ParseControl(frames[0])
	require.True(t, ok)
	assert.Equal(t, stream.ControlUserInput, frame.Type)
	assert.Equal(t, "8080", frame.Content)

	transport.push("✅ Service deployed")
	transport.push(stream.Sentinel)
	waitTerminal(t, ctrl)

	sessions, err := store.List(history.FilterAll)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	var userContents []string
	for _, msg := range sessions[0].Messages {
		if msg.Role == history.RoleUser {
			userContents = append(userContents, msg.Content)
		}
	}
	assert.Equal(t, []string{"Deploy the service", "8080"}, userContents)
}

func TestController_CleanStreamEnd(t *testing.T) {
	ctrl, transport, _ := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "task"))

	// The one-way transport has no sentinel line; its named end event
	// surfaces as a clean EOF.
	transport.push("✅ All done")
	transport.finish()

	waitTerminal(t, ctrl)
	assert.Equal(t, StateCompleted, ctrl.State())
}

func TestController_EmptyPrompt(t *testing.T) {
	ctrl, _, _ := newTestController(t)

	err := ctrl.Start(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, relayerrors.IsCode(err, relayerrors.ErrCodeInvalidInput))
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestController_StartTwice(t *testing.T) {
	ctrl, transport, _ := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "first"))

	err := ctrl.Start(context.Background(), "second")
	require.Error(t, err)
	assert.True(t, relayerrors.IsCode(err, relayerrors.ErrCodeInvalidState))

	transport.push(stream.Sentinel)
	waitTerminal(t, ctrl)
}

func TestController_ReplyOutsideAwaitingInput(t *testing.T) {
	ctrl, transport, _ := newTestController(t)

	err := ctrl.Reply(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, relayerrors.IsCode(err, relayerrors.ErrCodeInvalidState))

	require.NoError(t, ctrl.Start(context.Background(), "task"))
	err = ctrl.Reply(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, relayerrors.IsCode(err, relayerrors.ErrCodeInvalidState))

	transport.push(stream.Sentinel)
	waitTerminal(t, ctrl)
}

func TestController_TransportDrop(t *testing.T) {
	ctrl, transport, store := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "long task"))

	transport.push("🧠 Working...")
	transport.pushErr(relayerrors.New(relayerrors.ErrCodeTransportDropped, "connection reset"))

	waitTerminal(t, ctrl)
	assert.Equal(t, StateErrored, ctrl.State())

	sessions, err := store.List(history.FilterAll)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	// The drop leaves a terminal error section in the transcript.
	logs := sessions[0].Messages[len(sessions[0].Messages)-1].Logs
	require.NotEmpty(t, logs)
	assert.Equal(t, stream.KindError, logs[len(logs)-1].Type)
}

func TestController_AgentErrorLine(t *testing.T) {
	ctrl, transport, _ := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "task"))

	transport.push("❌ Error: model unavailable")
	waitTerminal(t, ctrl)
	assert.Equal(t, StateErrored, ctrl.State())

	sess := ctrl.Session()
	logs := sess.Messages[len(sess.Messages)-1].Logs
	require.Len(t, logs, 1)
	assert.Equal(t, transcript.TitleError, logs[0].Title)
}

func TestController_Cancel(t *testing.T) {
	ctrl, transport, store := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "task"))
	transport.push("🧠 Working...")

	require.Eventually(t, func() bool {
		return ctrl.State() == StateStreaming
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.Cancel())
	waitTerminal(t, ctrl)
	assert.Equal(t, StateCancelled, ctrl.State())

	// Cancelling twice is rejected.
	err := ctrl.Cancel()
	assert.True(t, relayerrors.IsCode(err, relayerrors.ErrCodeInvalidState))

	// The partial transcript is still persisted.
	sessions, err := store.List(history.FilterAll)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestController_AnomalyWhileAwaitingInput(t *testing.T) {
	ctrl, transport, _ := newTestController(t)

	require.NoError(t, ctrl.Start(context.Background(), "task"))
	transport.push(`{"type":"input_request","content":"Proceed?"}`)

	require.Eventually(t, func() bool {
		return ctrl.State() == StateAwaitingInput
	}, 2*time.Second, 10*time.Millisecond)

	// Stream content while a question is pending is dropped, not graphed.
	transport.push("⚙️ unexpected work")
	time.Sleep(50 * time.Millisecond)

	sess := ctrl.Session()
	last := sess.Messages[len(sess.Messages)-1]
	assert.Empty(t, last.Logs)
	assert.Equal(t, StateAwaitingInput, ctrl.State())

	require.NoError(t, ctrl.Reply(context.Background(), "yes"))
	transport.push(stream.Sentinel)
	waitTerminal(t, ctrl)
}

func TestController_DialFailure(t *testing.T) {
	store := history.NewStore(history.NewMemoryBackend())
	dialErr := relayerrors.New(relayerrors.ErrCodeTransportOpen, "connection refused")
	ctrl := NewController(&fakeDialer{err: dialErr}, store, bus.NewMemoryBus())

	err := ctrl.Start(context.Background(), "task")
	require.Error(t, err)

	waitTerminal(t, ctrl)
	assert.Equal(t, StateErrored, ctrl.State())
}

func TestController_DraftMode(t *testing.T) {
	transport := newFakeTransport()
	store := history.NewStore(history.NewMemoryBackend())
	require.NoError(t, store.SetDraftMode(true))

	ctrl := NewController(&fakeDialer{transport: transport}, store, bus.NewMemoryBus())
	require.NoError(t, ctrl.Start(context.Background(), "draft task"))
	transport.push(stream.Sentinel)
	waitTerminal(t, ctrl)

	// Draft sessions are persisted but hidden from listings.
	sessions, err := store.List(history.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	sess := ctrl.Session()
	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsDraft)
}
