package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orkestra-dev/orkestra/pkg/agent"
	"github.com/orkestra-dev/orkestra/pkg/config"
	"github.com/orkestra-dev/orkestra/pkg/llms"
	"github.com/orkestra-dev/orkestra/pkg/memory"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
	"github.com/orkestra-dev/orkestra/pkg/tools"
)

const summaryPrefix = "Previous conversation summary:\n\n"

const summarizerPrompt = `You are a conversation summarizer. Produce a concise summary of the
conversation you are given. Preserve decisions, open tasks, important facts
and the user's goals. Reply with the summary only.`

const topicPrompt = `Describe the topic of the conversation you are given. Reply in 5-10 words,
with no punctuation at the end.`

// Manager wraps the orchestrator with lifecycle concerns: provider
// construction and hot swap, the user-facing retry loop, the context-window
// watchdog with auto-summary, topic analysis and session switching.
type Manager struct {
	mu sync.Mutex

	cfg         *config.Config
	providerCfg config.ProviderConfig
	agentName   string

	provider     llms.Provider
	orchestrator *agent.Orchestrator
	store        *memory.ConversationStore
	session      *metrics.Session
	registry     *tools.Registry
	executor     *tools.Executor
	approver     tools.Approver

	sessionID string
	eventLog  *agent.FileEventLog
	uiSink    agent.EventSink

	mcpSources []*tools.MCPSource

	// contextWindows caches per-model limits resolved via ListModels.
	contextWindows map[string]int

	conversationID string
}

// ManagerOptions configures Init.
type ManagerOptions struct {
	// AgentName selects the template; empty uses the config default.
	AgentName string

	// SessionID names the session; empty generates one.
	SessionID string

	// Sink receives events for UI rendering, alongside the session's
	// events.json log.
	Sink agent.EventSink

	// Approver gates tool calls when the agent requires approval.
	Approver tools.Approver
}

// Init builds a ready-to-send manager from the config snapshot. MCP servers
// are registered immediately and connect lazily on first use.
func Init(cfg *config.Config, opts ManagerOptions) (*Manager, error) {
	agentCfg, err := cfg.Agent(opts.AgentName)
	if err != nil {
		return nil, err
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	m := &Manager{
		cfg:            cfg,
		providerCfg:    cfg.Provider,
		agentName:      agentCfg.Name,
		sessionID:      sessionID,
		uiSink:         opts.Sink,
		approver:       opts.Approver,
		contextWindows: make(map[string]int),
		conversationID: agent.DefaultConversationID,
	}

	m.provider, err = BuildProvider(cfg.Provider, m.persistCredentials)
	if err != nil {
		return nil, err
	}

	m.store, err = m.openStore(sessionID)
	if err != nil {
		return nil, err
	}
	m.session = metrics.NewSession()

	if err := m.buildToolLayer(agentCfg); err != nil {
		return nil, err
	}

	sink, err := m.buildSink(sessionID)
	if err != nil {
		return nil, err
	}

	m.orchestrator = agent.NewOrchestrator(
		m.provider, m.store, m.registry, m.executor, m.session, sink,
		orchestratorOptions(agentCfg),
	)

	m.orchestrator.Emit(agent.Event{
		Type:    agent.EventSystem,
		Content: fmt.Sprintf("Session %s ready (agent %s, model %s)", sessionID, agentCfg.Name, agentCfg.Model),
	})
	return m, nil
}

func orchestratorOptions(agentCfg config.AgentConfig) agent.Options {
	opts := agent.Options{
		Name:           agentCfg.Name,
		Model:          agentCfg.Model,
		SystemPrompt:   agentCfg.SystemPrompt,
		MaxTokens:      agentCfg.MaxTokens,
		Reasoning:      llms.ReasoningEffort(agentCfg.ReasoningEffort),
		ThinkingBudget: agentCfg.ThinkingBudget,
		MaxTurns:       agentCfg.MaxTurns,
		EnabledTools:   agentCfg.EnabledTools,
		SubAgents:      agentCfg.SubAgents,
	}
	if agentCfg.Temperature != nil {
		opts.Temperature = *agentCfg.Temperature
	}
	if agentCfg.TopP != nil {
		opts.TopP = *agentCfg.TopP
	}
	return opts
}

func (m *Manager) openStore(sessionID string) (*memory.ConversationStore, error) {
	switch m.cfg.Session.Persistence {
	case config.PersistenceFile:
		backing, err := memory.NewFileStore(filepath.Join(m.cfg.Session.Directory, sessionID, "history.json"))
		if err != nil {
			return nil, err
		}
		return memory.NewConversationStore(backing), nil
	case config.PersistenceSQLite:
		backing, err := memory.NewSQLiteStore(filepath.Join(m.cfg.Session.Directory, sessionID, "history.db"))
		if err != nil {
			return nil, err
		}
		return memory.NewConversationStore(backing), nil
	default:
		return memory.NewConversationStore(memory.NewMemoryStore()), nil
	}
}

func (m *Manager) buildSink(sessionID string) (agent.EventSink, error) {
	var sinks agent.MultiSink
	if m.uiSink != nil {
		sinks = append(sinks, m.uiSink)
	}
	if m.cfg.Session.Persistence != config.PersistenceMemory {
		log, err := agent.NewFileEventLog(filepath.Join(m.cfg.Session.Directory, sessionID, "events.json"))
		if err != nil {
			return nil, err
		}
		m.eventLog = log
		sinks = append(sinks, log)
	}
	if len(sinks) == 0 {
		return agent.NullSink{}, nil
	}
	return sinks, nil
}

func (m *Manager) buildToolLayer(agentCfg config.AgentConfig) error {
	m.registry = tools.NewRegistry()
	m.registry.AddSource(builtinSource())

	if len(agentCfg.SubAgents) > 0 {
		m.registry.AddSource(tools.NewDelegateSource(m, agentCfg.MaxDelegationDepth))
	}

	for _, serverCfg := range m.cfg.Tools.MCPServers {
		source, err := tools.NewMCPSource(tools.MCPConfig{
			Name:      serverCfg.Name,
			Transport: serverCfg.Transport,
			Command:   serverCfg.Command,
			Args:      serverCfg.Args,
			Env:       serverCfg.Env,
			URL:       serverCfg.URL,
			Timeout:   time.Duration(serverCfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		m.mcpSources = append(m.mcpSources, source)
		m.registry.AddSource(source)
	}

	executorOpts := []tools.ExecutorOption{
		tools.WithConcurrency(agentCfg.MaxToolConcurrency),
		tools.WithCallTimeout(time.Duration(m.cfg.Tools.DefaultTimeoutSeconds) * time.Second),
	}
	if agentCfg.RequireToolApproval && m.approver != nil {
		executorOpts = append(executorOpts, tools.WithApprover(m.approver))
	}
	m.executor = tools.NewExecutor(m.registry, executorOpts...)
	return nil
}

// persistCredentials receives refreshed OAuth tokens. The in-memory config
// snapshot is updated; durable storage is the config collaborator's concern.
func (m *Manager) persistCredentials(access, refresh string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Provider.Auth.AccessToken = access
	m.cfg.Provider.Auth.RefreshToken = refresh
	m.cfg.Provider.Auth.ExpiresAt = expiresAt
	slog.Info("OAuth credentials refreshed", "expires_at", expiresAt)
}

// UpdateConfig applies a hot-reloaded config snapshot. The provider is
// rebuilt only when its section changed; agent model settings take effect
// on the next send.
func (m *Manager) UpdateConfig(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	if !reflect.DeepEqual(cfg.Provider, m.providerCfg) {
		provider, err := BuildProvider(cfg.Provider, m.persistCredentials)
		if err != nil {
			return fmt.Errorf("failed to rebuild provider: %w", err)
		}
		m.provider = provider
		m.providerCfg = cfg.Provider
		m.orchestrator.SetProvider(provider)
		slog.Info("provider swapped after config reload", "type", cfg.Provider.Type)
	}

	if agentCfg, err := cfg.Agent(m.agentName); err == nil {
		m.orchestrator.SetModel(agentCfg.Model, llms.ReasoningEffort(agentCfg.ReasoningEffort))
	}
	return nil
}

// Send runs one user turn with the user-facing retry policy: fixed spacing,
// a system event per retry, and immediate bubbling of non-retryable errors.
// After a successful send it updates conversation metadata and runs the
// context-window watchdog.
func (m *Manager) Send(ctx context.Context, text string) (*llms.CompletionResult, error) {
	m.mu.Lock()
	retryCfg := m.cfg.Retry
	conversationID := m.conversationID
	orchestrator := m.orchestrator
	store := m.store
	session := m.session
	m.mu.Unlock()

	delay := time.Duration(retryCfg.DelaySeconds) * time.Second
	toolCallsBefore := session.Snapshot().ToolCalls
	start := time.Now()

	var result *llms.CompletionResult
	var err error
	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		// The first attempt persists the user message; replays must not
		// append it again.
		result, err = orchestrator.Send(ctx, text, agent.SendOptions{
			ConversationID: conversationID,
			Retry:          attempt > 1,
		})
		if err == nil {
			break
		}
		if !llms.IsRetryable(err) {
			return nil, err
		}
		if attempt == retryCfg.MaxAttempts {
			return nil, fmt.Errorf("send failed after %d attempts: %w", retryCfg.MaxAttempts, err)
		}

		orchestrator.Emit(agent.Event{
			Type:    agent.EventSystem,
			Content: fmt.Sprintf("Request failed (%v), retrying in %s (attempt %d/%d)", err, delay, attempt+1, retryCfg.MaxAttempts),
			Color:   "yellow",
		})
		select {
		case <-ctx.Done():
			return nil, llms.NewError(llms.KindCancelled, "send cancelled while waiting to retry")
		case <-time.After(delay):
		}
	}

	toolCalls := session.Snapshot().ToolCalls - toolCallsBefore
	if err := store.RecordRequestMetrics(ctx, conversationID, result.Usage, toolCalls, time.Since(start)); err != nil {
		slog.Warn("failed to update conversation metrics", "error", err)
	}

	m.analyzeTopic(ctx, conversationID, text)
	m.runWatchdog(ctx, conversationID)

	return result, nil
}

// contextWindow resolves the model's limit, preferring ListModels and
// falling back to the static table. Results are cached per model.
func (m *Manager) contextWindow(ctx context.Context, model string) int {
	m.mu.Lock()
	if window, ok := m.contextWindows[model]; ok {
		m.mu.Unlock()
		return window
	}
	provider := m.provider
	m.mu.Unlock()

	window := 0
	if models, err := provider.ListModels(ctx); err == nil {
		for _, info := range models {
			if info.ID == model && info.ContextWindow > 0 {
				window = info.ContextWindow
				break
			}
		}
	}
	if window == 0 {
		window = StaticContextWindow(model)
	}

	m.mu.Lock()
	m.contextWindows[model] = window
	m.mu.Unlock()
	return window
}

// runWatchdog checks context-window utilization after a send and escalates
// from warning to auto-summary.
func (m *Manager) runWatchdog(ctx context.Context, conversationID string) {
	model := m.orchestrator.Model()
	window := m.contextWindow(ctx, model)
	if window <= 0 {
		return
	}
	m.session.SetContextWindow(window)

	snapshot := m.session.Snapshot()
	promptTokens := snapshot.LastPromptTokens
	if promptTokens == 0 {
		// The provider reported no usage; estimate from history.
		if history, err := m.store.GetConversation(ctx, conversationID); err == nil {
			promptTokens = EstimateTokens(model, history)
		}
	}

	usage := float64(promptTokens) / float64(window)
	switch {
	case usage >= m.cfg.Session.SummaryThreshold:
		m.orchestrator.Emit(agent.Event{
			Type:    agent.EventSystem,
			Content: fmt.Sprintf("Context window %.0f%% full, running auto-summary", usage*100),
			Color:   "yellow",
		})
		if err := m.autoSummarize(ctx, conversationID); err != nil {
			m.orchestrator.Emit(agent.Event{Type: agent.EventError, Content: fmt.Sprintf("auto-summary failed: %v", err)})
		}
	case usage >= m.cfg.Session.WarnThreshold:
		m.orchestrator.Emit(agent.Event{
			Type:    agent.EventSystem,
			Content: fmt.Sprintf("Context window %.0f%% full; consider starting a new conversation", usage*100),
			Color:   "yellow",
		})
	}
}

// autoSummarize replaces the conversation with a single synthesized summary
// message, resets session metrics, and refreshes the UI.
func (m *Manager) autoSummarize(ctx context.Context, conversationID string) error {
	history, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	summary, err := m.runTransient(ctx, summarizerPrompt, renderTranscript(history))
	if err != nil {
		return err
	}

	replacement := protocol.NewUserMessage(summaryPrefix + strings.TrimSpace(summary))
	if err := m.store.ReplaceMessages(ctx, conversationID, []protocol.Message{replacement}); err != nil {
		return err
	}

	m.session.Reset()
	m.orchestrator.Emit(agent.Event{Type: agent.EventLinesClear})
	m.orchestrator.Emit(agent.Event{Type: agent.EventHeaderRefresh})
	return nil
}

// analyzeTopic keeps conversation metadata topical. Failures are swallowed;
// a missing topic never degrades a send.
func (m *Manager) analyzeTopic(ctx context.Context, conversationID, latest string) {
	if m.cfg.Session.TopicAnalysis != nil && !*m.cfg.Session.TopicAnalysis {
		return
	}

	history, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return
	}
	var sb strings.Builder
	for _, message := range history {
		if message.Role == protocol.RoleUser {
			sb.WriteString(message.Text())
			sb.WriteString("\n")
		}
	}
	sb.WriteString(latest)

	topic, err := m.runTransient(ctx, topicPrompt, sb.String())
	if err != nil {
		slog.Debug("topic analysis failed", "error", err)
		return
	}
	if topic = strings.TrimSpace(topic); topic != "" {
		if err := m.store.UpdateTopic(ctx, conversationID, topic); err != nil {
			slog.Debug("failed to store topic", "error", err)
		}
	}
}

// runTransient runs a one-shot orchestrator with its own in-memory store
// and no tools, used by summarization and topic analysis.
func (m *Manager) runTransient(ctx context.Context, systemPrompt, input string) (string, error) {
	m.mu.Lock()
	provider := m.provider
	model := m.orchestrator.Model()
	m.mu.Unlock()

	transient := agent.NewOrchestrator(
		provider,
		memory.NewConversationStore(memory.NewMemoryStore()),
		tools.NewRegistry(),
		tools.NewExecutor(tools.NewRegistry()),
		metrics.NewSession(),
		agent.NullSink{},
		agent.Options{
			Name:             "transient",
			Model:            model,
			SystemPrompt:     systemPrompt,
			MaxTurns:         1,
			DisableStreaming: true,
			EnabledTools:     []string{},
			Environment:      &agent.Environment{},
		},
	)

	result, err := transient.Send(ctx, input, agent.SendOptions{})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func renderTranscript(messages []protocol.Message) string {
	var sb strings.Builder
	for _, message := range messages {
		text := message.Text()
		if text == "" {
			continue
		}
		sb.WriteString(string(message.Role))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// SwitchSession swaps the conversation store, event log and metrics bucket
// onto a different session without touching MCP connections.
func (m *Manager) SwitchSession(sessionID string) error {
	store, err := m.openStore(sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	oldLog := m.eventLog
	m.eventLog = nil
	sink, err := m.buildSink(sessionID)
	if err != nil {
		m.eventLog = oldLog
		return err
	}
	if oldLog != nil {
		oldLog.Close()
	}

	m.sessionID = sessionID
	m.store = store
	m.session = metrics.NewSession()
	m.conversationID = agent.DefaultConversationID

	m.orchestrator.SetStore(store)
	m.orchestrator.SetMetrics(m.session)
	m.orchestrator.SetEventSink(sink)

	m.orchestrator.Emit(agent.Event{
		Type:    agent.EventSystem,
		Content: fmt.Sprintf("Switched to session %s", sessionID),
	})
	return nil
}

// NewConversation starts a fresh conversation in the current session.
func (m *Manager) NewConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversationID = uuid.NewString()
	m.session.Reset()
	m.orchestrator.Emit(agent.Event{Type: agent.EventLinesClear})
	m.orchestrator.Emit(agent.Event{Type: agent.EventHeaderRefresh})
	return m.conversationID
}

// SessionID returns the active session id.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// ConversationID returns the active conversation id.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Store exposes the conversation store for listing and inspection.
func (m *Manager) Store() *memory.ConversationStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

// Metrics exposes the session metrics bucket.
func (m *Manager) Metrics() *metrics.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Cleanup disconnects MCP servers and closes session files.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, source := range m.mcpSources {
		if err := source.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.eventLog != nil {
		if err := m.eventLog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.eventLog = nil
	}
	if err := m.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
