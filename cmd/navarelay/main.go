package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/navaai/relay/pkg/bus"
	"github.com/navaai/relay/pkg/config"
	"github.com/navaai/relay/pkg/history"
	"github.com/navaai/relay/pkg/logging"
	"github.com/navaai/relay/pkg/relay"
	"github.com/navaai/relay/pkg/session"
	"github.com/navaai/relay/pkg/stream"
	"github.com/navaai/relay/pkg/transcript"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "navarelay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("navarelay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("navarelay %s (%s, built %s)\n", version, commit, buildDate)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: navarelay [-config path] <serve|run|history> [args]")
	}

	switch rest[0] {
	case "serve":
		return runServe(cfg)
	case "run":
		return runSession(cfg, strings.Join(rest[1:], " "))
	case "history":
		return runHistory(cfg, rest[1:])
	default:
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func newLogger(cfg *config.Config, sessionID string) *logging.Logger {
	logger, err := logging.NewLogger(cfg.Logging.Dir, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "navarelay: logging disabled: %v\n", err)
		return logging.NewNop()
	}
	if cfg.Logging.Level != "" {
		logger.SetMinLevel(logging.Level(cfg.Logging.Level))
	}
	return logger
}

// runServe starts the relay server with the built-in echo agent. Real
// deployments swap the agent for a process wrapping the actual model.
func runServe(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger(cfg, "relay-"+uuid.NewString())
	defer logger.Close()

	srv := relay.NewServer(echoAgent(),
		relay.WithBind(cfg.Relay.Bind),
		relay.WithLogger(logger),
	)
	fmt.Printf("relay listening on %s\n", cfg.Relay.Bind)
	return srv.Start(ctx)
}

// echoAgent is a development stand-in that walks the whole protocol: thought,
// tool, output block, and an input request when the prompt asks a question.
func echoAgent() relay.Agent {
	return relay.AgentFunc(func(ctx context.Context, prompt string, emit func(string), ask func(string) (string, error)) error {
		emit("🧠 Processing prompt: " + prompt)
		emit("⚙️ Selecting tools")
		time.Sleep(100 * time.Millisecond)

		if strings.Contains(prompt, "?") {
			answer, err := ask("The prompt is a question. Answer it myself? (yes/no)")
			if err != nil {
				return err
			}
			emit("🧩 User said: " + answer)
		}

		emit("💡 OUTPUT_START")
		emit("💡 " + prompt)
		emit("💡 OUTPUT_END")
		emit("✅ Generation finished")
		return nil
	})
}

func openStore(cfg *config.Config, logger *logging.Logger) (*history.Store, *history.FileBackend, error) {
	var backend history.Backend
	var fileBackend *history.FileBackend

	if filepath.Ext(cfg.History.Path) == ".json" {
		fb, err := history.NewFileBackend(cfg.History.Path)
		if err != nil {
			return nil, nil, err
		}
		backend = fb
		fileBackend = fb
	} else {
		sb, err := history.NewSQLiteBackend(cfg.History.Path)
		if err != nil {
			return nil, nil, err
		}
		backend = sb
	}

	store := history.NewStore(backend,
		history.WithCap(cfg.History.Cap),
		history.WithLogger(logger),
	)
	return store, fileBackend, nil
}

func openBus(cfg *config.Config) (bus.MessageBus, error) {
	if cfg.Sync.NATSURL != "" {
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.URL = cfg.Sync.NATSURL
		return bus.NewNATSBus(natsCfg)
	}
	return bus.NewMemoryBus(), nil
}

// runSession drives one generation run against the configured agent endpoint,
// rendering sections to stdout and answering input requests from stdin.
func runSession(cfg *config.Config, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("usage: navarelay run <prompt>")
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger(cfg, "run-"+uuid.NewString())
	defer logger.Close()

	store, fileBackend, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	msgBus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer msgBus.Close()

	if fileBackend != nil {
		watcher, err := bus.NewHistoryWatcher(msgBus, fileBackend.Path(), logger)
		if err != nil {
			logger.Warn(logging.CategorySync, "watcher_disabled", err.Error(), nil)
		} else {
			defer watcher.Close()
		}
	}

	rendered := 0
	ctrl := session.NewController(
		&session.WSDialer{URL: cfg.Agent.Endpoint, DialTimeout: cfg.Agent.DialTimeout},
		store,
		msgBus,
		session.WithControllerLogger(logger),
	)

	if err := ctrl.Start(ctx, prompt); err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctrl.Done():
			renderNewSections(ctrl, &rendered)
			fmt.Printf("\nsession %s\n", ctrl.State())
			return nil
		case <-ctx.Done():
			return ctrl.Cancel()
		case <-ticker.C:
			renderNewSections(ctrl, &rendered)
			if ctrl.State() == session.StateAwaitingInput {
				sess := ctrl.Session()
				last := sess.Messages[len(sess.Messages)-1]
				fmt.Printf("\n%s %s\n> ", stream.MarkerReasoning, last.Content)
				line, err := stdin.ReadString('\n')
				if err != nil {
					return ctrl.Cancel()
				}
				if err := ctrl.Reply(ctx, strings.TrimSpace(line)); err != nil {
					return err
				}
			}
		}
	}
}

func renderNewSections(ctrl *session.Controller, rendered *int) {
	sections := ctrl.Sections()
	for ; *rendered < len(sections); *rendered++ {
		printSection(sections[*rendered])
	}
}

func printSection(sec transcript.Section) {
	fmt.Printf("\n[%s] %s\n", sec.Type, sec.Title)
	for _, line := range sec.Content {
		fmt.Printf("  %s\n", line)
	}
}

// runHistory browses and mutates the persisted session list.
func runHistory(cfg *config.Config, args []string) error {
	logger := logging.NewNop()
	store, _, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		args = []string{"list"}
	}

	switch args[0] {
	case "list":
		filter := history.FilterAll
		if len(args) > 1 && args[1] == "favorites" {
			filter = history.FilterFavorites
		}
		sessions, err := store.List(filter)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, sess := range sessions {
			star := " "
			if sess.IsFavorite {
				star = "*"
			}
			fmt.Printf("%s %s  %s  %s\n", star, sess.ID, sess.LastUpdated.Format(time.RFC3339), sess.Title)
		}
		return nil

	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: navarelay history show <id>")
		}
		sess, err := store.Get(args[1])
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("session not found: %s", args[1])
		}
		for _, msg := range sess.Messages {
			fmt.Printf("--- %s\n", msg.Role)
			if msg.Content != "" {
				fmt.Println(msg.Content)
			}
			for _, sec := range msg.Logs {
				printSection(sec)
			}
		}
		return nil

	case "favorite":
		if len(args) < 2 {
			return fmt.Errorf("usage: navarelay history favorite <id>")
		}
		return store.ToggleFavorite(args[1])

	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: navarelay history delete <id>")
		}
		return store.Delete(args[1])

	case "clear":
		return store.Clear()

	default:
		return fmt.Errorf("unknown history command: %s", args[0])
	}
}
