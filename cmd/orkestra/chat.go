package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/orkestra-dev/orkestra/pkg/config"
	"github.com/orkestra-dev/orkestra/pkg/llms"
	"github.com/orkestra-dev/orkestra/pkg/logger"
	"github.com/orkestra-dev/orkestra/pkg/observability"
	"github.com/orkestra-dev/orkestra/pkg/runtime"
	"github.com/orkestra-dev/orkestra/pkg/tools"
)

// ChatCmd runs the interactive chat loop.
type ChatCmd struct {
	Agent   string `help:"Agent to talk to (defaults to the config's default agent)."`
	Session string `help:"Session id to open or resume (defaults to a new session)."`
	Watch   bool   `help:"Watch the config file for changes and hot-reload."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	cfg, err := c.loadConfig(cli.Config)
	if err != nil {
		return err
	}

	if err := c.setupLogging(cli, cfg); err != nil {
		return err
	}

	obs := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:      cfg.Observability.TracingEnabled,
			EndpointURL:  cfg.Observability.TracingEndpoint,
			SamplingRate: cfg.Observability.SamplingRate,
			ServiceName:  "orkestra",
		},
		Metrics: observability.MetricsConfig{
			Enabled: cfg.Observability.MetricsEnabled,
			Port:    cfg.Observability.MetricsPort,
		},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer obs.Shutdown(context.Background())

	sink := newTerminalSink(os.Stdout)
	manager, err := runtime.Init(cfg, runtime.ManagerOptions{
		AgentName: c.Agent,
		SessionID: c.Session,
		Sink:      sink,
		Approver:  tools.ApproverFunc(promptApproval),
	})
	if err != nil {
		return err
	}
	defer manager.Cleanup()

	sink.header = func() string {
		return fmt.Sprintf("session %s | conversation %s", manager.SessionID(), manager.ConversationID())
	}

	if c.Watch && cli.Config != "" {
		watcher, err := config.NewWatcher(cli.Config, func(next *config.Config) {
			if err := manager.UpdateConfig(next); err != nil {
				slog.Error("config reload failed", "error", err)
			}
		})
		if err != nil {
			return err
		}
		defer watcher.Close()
		go func() {
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("config watch error", "error", err)
			}
		}()
	}

	return c.loop(ctx, manager)
}

func (c *ChatCmd) loop(ctx context.Context, manager *runtime.Manager) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			manager.NewConversation()
			continue
		case "/sessions":
			printConversations(ctx, manager)
			continue
		}

		if _, err := manager.Send(ctx, line); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			if llms.KindOf(err) == llms.KindCancelled {
				continue
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func (c *ChatCmd) loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Default()
}

func (c *ChatCmd) setupLogging(cli *CLI, cfg *config.Config) error {
	level := cli.LogLevel
	format := cli.LogFormat
	file := cli.LogFile
	if level == "info" && cfg.Logger.Level != "" {
		level = cfg.Logger.Level
	}
	if format == "text" && cfg.Logger.Format != "" {
		format = cfg.Logger.Format
	}
	if file == "" {
		file = cfg.Logger.File
	}

	output := os.Stderr
	if file != "" {
		f, _, err := logger.OpenLogFile(file)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}
	logger.Init(logger.ParseLevel(level), output, format)
	return nil
}

func printConversations(ctx context.Context, manager *runtime.Manager) {
	infos, err := manager.Store().ListConversations(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	for _, info := range infos {
		topic := info.Topic
		if topic == "" {
			topic = "(no topic)"
		}
		fmt.Printf("  %s  %s  (%d messages)\n", info.ID, topic, info.Messages)
	}
}

// promptApproval asks on the terminal before a gated tool call runs. It is
// invoked from the executor while the chat loop is blocked inside Send, so
// reading stdin here does not race the scanner.
func promptApproval(ctx context.Context, req tools.ApprovalRequest) (bool, error) {
	fmt.Printf("Allow tool call %s %v? [y/N] ", req.Tool, req.Arguments)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
