package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	relayerrors "github.com/navaai/relay/pkg/errors"
	"github.com/navaai/relay/pkg/logging"
	"github.com/navaai/relay/pkg/stream"
)

const emptyPromptWarning = stream.MarkerWarning + " Empty prompt provided."

// Server relays between clients and the agent. One agent run per connection;
// the connection is the session boundary.
type Server struct {
	agent      Agent
	logger     *logging.Logger
	bind       string
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithBind sets the listen address.
func WithBind(addr string) ServerOption {
	return func(s *Server) { s.bind = addr }
}

// NewServer creates a relay server for the given agent.
func NewServer(agent Agent, opts ...ServerOption) *Server {
	s := &Server{
		agent:  agent,
		logger: logging.NewNop(),
		bind:   "127.0.0.1:8000",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", s.handleHealthz)
	router.Get("/generate", s.handleGenerate)
	router.Get("/stream", s.handleStream)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info(logging.CategoryRelay, "serving", "relay listening", map[string]any{
			"addr": s.bind,
		})
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleGenerate is the duplex endpoint. The first client frame is the
// prompt; subsequent frames are user_input control replies.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(logging.CategoryRelay, "upgrade_failed", err.Error(), nil)
		return
	}
	defer conn.Close()

	// The request context dies after the upgrade; the run gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws := &wsSession{conn: conn, inputs: make(chan string, 8)}

	// Receive pump: every inbound frame lands on the input queue. The first
	// is the prompt, the rest answer pending questions.
	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case ws.inputs <- string(data):
			case <-ctx.Done():
				return
			}
		}
	}()

	var prompt string
	select {
	case prompt = <-ws.inputs:
	case <-ctx.Done():
		return
	}
	prompt = strings.TrimSpace(prompt)

	if prompt == "" {
		_ = ws.write(emptyPromptWarning)
		return
	}

	metricSessionsStarted.WithLabelValues("websocket").Inc()
	s.logger.Info(logging.CategoryRelay, "session_started", "websocket run started", map[string]any{
		"remote_addr": r.RemoteAddr,
	})

	emit := func(line string) {
		if err := ws.write(line); err != nil {
			cancel()
			return
		}
		metricEventsRelayed.WithLabelValues("websocket").Inc()
	}

	ask := func(question string) (string, error) {
		if err := ws.write(stream.EncodeInputRequest(question)); err != nil {
			return "", relayerrors.Wrap(err, relayerrors.ErrCodeTransportSend, "send input request")
		}
		metricInputRequests.Inc()
		select {
		case reply := <-ws.inputs:
			// Structured replies carry the text in the envelope; bare text is
			// accepted as-is.
			if frame, ok := stream.ParseControl(reply); ok && frame.Type == stream.ControlUserInput {
				return frame.Content, nil
			}
			return reply, nil
		case <-ctx.Done():
			return "", relayerrors.New(relayerrors.ErrCodeTransportDropped, "client disconnected while awaiting input")
		}
	}

	if err := s.agent.Run(ctx, prompt, emit, ask); err != nil {
		metricSessionsFinished.WithLabelValues("websocket", "errored").Inc()
		s.logger.Error(logging.CategoryRelay, "agent_error", err.Error(), nil)
		_ = ws.write(fmt.Sprintf("%s Error: %v", stream.MarkerFailure, err))
		return
	}

	metricSessionsFinished.WithLabelValues("websocket", "completed").Inc()
	_ = ws.write(stream.Sentinel)
}

// handleStream is the one-way SSE endpoint. The prompt arrives as a query
// parameter and questions cannot be asked; completion is the named end event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var writeMu sync.Mutex
	send := func(line string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		for _, part := range strings.Split(line, "\n") {
			fmt.Fprintf(w, "data: %s\n", part)
		}
		fmt.Fprint(w, "\n")
		flusher.Flush()
	}
	end := func() {
		writeMu.Lock()
		defer writeMu.Unlock()
		fmt.Fprint(w, "event: end\ndata: \n\n")
		flusher.Flush()
	}

	prompt := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if prompt == "" {
		send(emptyPromptWarning)
		end()
		return
	}

	metricSessionsStarted.WithLabelValues("sse").Inc()

	emit := func(line string) {
		send(line)
		metricEventsRelayed.WithLabelValues("sse").Inc()
	}
	ask := func(question string) (string, error) {
		return "", relayerrors.New(relayerrors.ErrCodeTransportSend, "stream transport cannot carry input requests")
	}

	if err := s.agent.Run(r.Context(), prompt, emit, ask); err != nil {
		metricSessionsFinished.WithLabelValues("sse", "errored").Inc()
		s.logger.Error(logging.CategoryRelay, "agent_error", err.Error(), nil)
		send(fmt.Sprintf("%s Error: %v", stream.MarkerFailure, err))
		end()
		return
	}

	metricSessionsFinished.WithLabelValues("sse", "completed").Inc()
	end()
}

// wsSession serializes writes; the websocket package allows one concurrent
// writer.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	inputs  chan string
}

func (ws *wsSession) write(line string) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, []byte(line))
}
