package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/orkestra-dev/orkestra/pkg/llms"
	"github.com/orkestra-dev/orkestra/pkg/memory"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/observability"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
	"github.com/orkestra-dev/orkestra/pkg/tools"
)

// DefaultMaxTurns bounds how many LLM rounds one send may take when the
// model keeps requesting tools.
const DefaultMaxTurns = 25

// DefaultConversationID is used when a send names no conversation.
const DefaultConversationID = "default"

// Options configures an orchestrator.
type Options struct {
	// Name identifies the agent, for logs and delegation.
	Name string

	Model        string
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int

	Reasoning      llms.ReasoningEffort
	ThinkingBudget int

	// MaxTurns bounds the tool loop. Zero means DefaultMaxTurns.
	MaxTurns int

	// DisableStreaming switches to GenerateCompletion per round.
	DisableStreaming bool

	// EnabledTools filters the advertised tool set by name. Nil advertises
	// everything; an empty non-nil slice advertises nothing.
	EnabledTools []string

	// WorkingDir and SubAgents feed the system prompt environment.
	WorkingDir string
	SubAgents  []string

	// Environment pins the injected prompt environment. When nil it is
	// collected fresh on every send.
	Environment *Environment
}

// SendOptions selects per-call behavior.
type SendOptions struct {
	// ConversationID selects the conversation; empty uses the default.
	ConversationID string

	// Retry marks this call as a replay of a failed attempt whose user
	// message is already persisted. The message is neither appended nor
	// re-announced as a UserMessage event.
	Retry bool
}

// Orchestrator drives the agent loop for one session: assemble messages,
// call the LLM, execute requested tools, persist, and repeat until the model
// stops asking for tools. Collaborators are swappable at runtime so config
// reloads and session switches never rebuild the loop.
type Orchestrator struct {
	mu       sync.Mutex
	provider llms.Provider
	store    *memory.ConversationStore
	registry *tools.Registry
	executor *tools.Executor
	session  *metrics.Session
	opts     Options

	events *emitter
}

func NewOrchestrator(
	provider llms.Provider,
	store *memory.ConversationStore,
	registry *tools.Registry,
	executor *tools.Executor,
	session *metrics.Session,
	sink EventSink,
	opts Options,
) *Orchestrator {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	return &Orchestrator{
		provider: provider,
		store:    store,
		registry: registry,
		executor: executor,
		session:  session,
		opts:     opts,
		events:   newEmitter(sink),
	}
}

// SetProvider swaps the LLM adapter, for config hot reload.
func (o *Orchestrator) SetProvider(provider llms.Provider) {
	o.mu.Lock()
	o.provider = provider
	o.mu.Unlock()
}

// SetModel updates the model and reasoning settings.
func (o *Orchestrator) SetModel(model string, reasoning llms.ReasoningEffort) {
	o.mu.Lock()
	o.opts.Model = model
	o.opts.Reasoning = reasoning
	o.mu.Unlock()
}

// SetStore swaps the conversation store, for session switches.
func (o *Orchestrator) SetStore(store *memory.ConversationStore) {
	o.mu.Lock()
	o.store = store
	o.mu.Unlock()
}

// SetMetrics swaps the session metrics bucket.
func (o *Orchestrator) SetMetrics(session *metrics.Session) {
	o.mu.Lock()
	o.session = session
	o.mu.Unlock()
}

// SetEventSink swaps the event sink without resetting event ids.
func (o *Orchestrator) SetEventSink(sink EventSink) {
	o.events.setSink(sink)
}

// Model returns the currently configured model id.
func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts.Model
}

// Emit publishes an event through the orchestrator's stream, for callers
// layered above the loop (retry notices, watchdog warnings).
func (o *Orchestrator) Emit(event Event) {
	o.events.emit(event)
}

// snapshot copies the swappable collaborators under the lock.
func (o *Orchestrator) snapshot() (llms.Provider, *memory.ConversationStore, *metrics.Session, Options) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.provider, o.store, o.session, o.opts
}

// Send runs one turn: persist the user message, then loop the LLM and tool
// execution until the model stops requesting tools, the turn budget runs
// out, or the context is cancelled. The returned result is the last LLM
// round's.
func (o *Orchestrator) Send(ctx context.Context, text string, opts SendOptions) (*llms.CompletionResult, error) {
	provider, store, session, options := o.snapshot()

	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = DefaultConversationID
	}

	tracer := observability.Tracer("orkestra.agent")
	ctx, span := tracer.Start(ctx, "agent.send",
		trace.WithAttributes(
			attribute.String("agent.name", options.Name),
			attribute.String("agent.conversation", conversationID),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := o.send(ctx, provider, store, session, options, conversationID, text, opts.Retry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.events.emit(Event{Type: EventError, Content: err.Error()})
		return nil, err
	}
	span.SetStatus(codes.Ok, "")

	duration := time.Since(start)
	session.RecordRequestComplete(duration)
	observability.RecordAgentTurn(ctx, duration, result.Usage.TotalTokens)

	o.events.emit(Event{Type: EventDone, Usage: &result.Usage})
	return result, nil
}

func (o *Orchestrator) send(
	ctx context.Context,
	provider llms.Provider,
	store *memory.ConversationStore,
	session *metrics.Session,
	options Options,
	conversationID, text string,
	retry bool,
) (*llms.CompletionResult, error) {
	env := options.Environment
	if env == nil {
		collected := CollectEnvironment(options.WorkingDir, options.SubAgents)
		env = &collected
	}
	systemPrompt, err := RenderSystemPrompt(options.SystemPrompt, *env)
	if err != nil {
		return nil, err
	}

	// The user message is persisted before the first LLM call, so a failed
	// send never loses input. Retried attempts find it already in history.
	if !retry {
		userMessage := protocol.NewUserMessage(text)
		o.events.emit(Event{Type: EventUserMessage, Content: text})
		if err := store.AppendMessages(ctx, conversationID, userMessage); err != nil {
			return nil, fmt.Errorf("failed to persist user message: %w", err)
		}
	}

	definitions := filterDefinitions(o.registry.Definitions(ctx), options.EnabledTools)

	var result *llms.CompletionResult
	for turn := 0; turn < options.MaxTurns; turn++ {
		history, err := store.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}

		params := llms.CompletionParams{
			Model:          options.Model,
			Messages:       append([]protocol.Message{protocol.NewSystemMessage(systemPrompt)}, history...),
			Temperature:    options.Temperature,
			TopP:           options.TopP,
			MaxTokens:      options.MaxTokens,
			Reasoning:      options.Reasoning,
			ThinkingBudget: options.ThinkingBudget,
		}
		// An empty tool list is omitted entirely; tool choice only travels
		// with tools.
		if len(definitions) > 0 {
			params.Tools = definitions
			params.ToolChoice = llms.ToolChoice{Mode: "auto"}
		}

		result, err = o.complete(ctx, provider, params, options.DisableStreaming)
		if err != nil {
			return nil, err
		}
		session.RecordLLMCall(result.Usage)

		assistant := protocol.NewAssistantMessage(result.Content, result.ToolCalls)
		if err := store.AppendMessages(ctx, conversationID, assistant); err != nil {
			return nil, fmt.Errorf("failed to persist assistant message: %w", err)
		}

		if len(result.ToolCalls) == 0 {
			return result, nil
		}

		if err := o.runToolRound(ctx, store, session, conversationID, result.ToolCalls); err != nil {
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, llms.NewError(llms.KindCancelled, "send cancelled during tool execution")
		}
	}

	o.events.emit(Event{
		Type:    EventSystem,
		Content: fmt.Sprintf("Stopping after %d turns; the model kept requesting tools.", options.MaxTurns),
		Color:   "yellow",
	})
	return result, nil
}

// complete performs one LLM round, streaming unless disabled.
func (o *Orchestrator) complete(ctx context.Context, provider llms.Provider, params llms.CompletionParams, disableStreaming bool) (*llms.CompletionResult, error) {
	if disableStreaming {
		result, err := provider.GenerateCompletion(ctx, params)
		if err != nil {
			return nil, err
		}
		o.events.emit(Event{
			Type:      EventAssistantMessage,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
			Usage:     &result.Usage,
		})
		return result, nil
	}

	return provider.StreamCompletion(ctx, params, llms.StreamHandlers{
		OnChunk: func(delta string, usage *llms.Usage) {
			o.events.emit(Event{Type: EventAssistantChunk, Delta: delta, Usage: usage})
		},
		OnToolCallDelta: func(delta llms.ToolCallDelta) {
			o.events.emit(Event{
				Type:       EventToolCallDelta,
				ToolCallID: delta.ID,
				ToolName:   delta.Name,
				Delta:      delta.Arguments,
			})
		},
		OnStreamFinish: func(finishReason string, usage *llms.Usage) {
			o.events.emit(Event{Type: EventStreamFinish, FinishReason: finishReason, Usage: usage})
		},
	})
}

// runToolRound executes one batch of tool calls and appends all results in
// a single store operation, so snapshots never observe a half-applied round.
func (o *Orchestrator) runToolRound(
	ctx context.Context,
	store *memory.ConversationStore,
	session *metrics.Session,
	conversationID string,
	calls []protocol.ToolCall,
) error {
	for _, call := range calls {
		o.events.emit(Event{
			Type:       EventToolCallStart,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Content:    call.Arguments,
		})
	}

	results := o.executor.ExecuteCalls(ctx, calls)

	messages := make([]protocol.Message, 0, len(results))
	for _, result := range results {
		session.RecordToolCall()
		o.events.emit(Event{
			Type:       EventToolCallResult,
			ToolCallID: result.ToolCallID,
			ToolName:   result.Tool,
			ToolStatus: string(result.Status),
			Content:    result.Content,
			DurationMs: result.Duration.Milliseconds(),
		})
		messages = append(messages, result.Message())
	}

	if err := store.AppendMessages(ctx, conversationID, messages...); err != nil {
		return fmt.Errorf("failed to persist tool results: %w", err)
	}
	return nil
}

// filterDefinitions narrows the advertised tools to the enabled set. A nil
// filter advertises everything.
func filterDefinitions(definitions []llms.ToolDefinition, enabled []string) []llms.ToolDefinition {
	if enabled == nil {
		return definitions
	}
	allowed := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		allowed[name] = true
	}
	var filtered []llms.ToolDefinition
	for _, definition := range definitions {
		if allowed[definition.Name] {
			filtered = append(filtered, definition)
		}
	}
	return filtered
}
