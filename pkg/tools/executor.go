package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/orkestra-dev/orkestra/pkg/observability"
	"github.com/orkestra-dev/orkestra/pkg/protocol"
)

// Status classifies the outcome of one tool call.
type Status string

const (
	StatusOK               Status = "ok"
	StatusValidationFailed Status = "validation_failed"
	StatusUnknownTool      Status = "unknown_tool"
	StatusDenied           Status = "denied"
	StatusTimeout          Status = "timeout"
	StatusError            Status = "error"
)

// Result is the outcome of one tool call. Failures carry a textual Content
// suitable for feeding back to the model as a tool message.
type Result struct {
	ToolCallID string
	Tool       string
	Status     Status
	Content    string
	Err        error
	Duration   time.Duration
}

// Message converts the result into a tool-role message answering the call.
func (r Result) Message() protocol.Message {
	return protocol.NewToolMessage(r.ToolCallID, r.Tool, r.Content)
}

// Executor runs batches of tool calls with bounded parallelism. Each call is
// validated against the tool's schema, gated through the approver, and run
// under a per-call timeout. Results come back in input order; one call's
// failure never aborts its batch.
type Executor struct {
	registry    *Registry
	approver    Approver
	concurrency int64
	timeout     time.Duration

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

type ExecutorOption func(*Executor)

// WithApprover gates every call through the given approver.
func WithApprover(a Approver) ExecutorOption {
	return func(e *Executor) {
		e.approver = a
	}
}

// WithConcurrency bounds how many calls of one batch run at once.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = int64(n)
		}
	}
}

// WithCallTimeout bounds each individual call's run time.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		concurrency: 4,
		timeout:     120 * time.Second,
		schemas:     make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteCalls runs the batch and returns one result per call, in input
// order.
func (e *Executor) ExecuteCalls(ctx context.Context, calls []protocol.ToolCall) []Result {
	results := make([]Result, len(calls))
	sem := semaphore.NewWeighted(e.concurrency)

	var wg sync.WaitGroup
	for i, call := range calls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{
				ToolCallID: call.ID,
				Tool:       call.Name,
				Status:     StatusError,
				Content:    "Error: execution cancelled",
				Err:        err,
			}
			continue
		}
		wg.Add(1)
		go func(i int, call protocol.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) executeOne(ctx context.Context, call protocol.ToolCall) Result {
	tracer := observability.Tracer("orkestra.tools")
	ctx, span := tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", call.Name)),
	)
	defer span.End()

	start := time.Now()
	result := e.run(ctx, call)
	result.Duration = time.Since(start)

	observability.RecordToolCall(ctx, call.Name, result.Duration, result.Err)
	span.SetAttributes(attribute.String("tool.status", string(result.Status)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (e *Executor) run(ctx context.Context, call protocol.ToolCall) Result {
	result := Result{ToolCallID: call.ID, Tool: call.Name}

	tool, ok := e.registry.Resolve(ctx, call.Name)
	if !ok {
		result.Status = StatusUnknownTool
		result.Err = fmt.Errorf("unknown tool %q", call.Name)
		result.Content = fmt.Sprintf("Error: unknown tool %q", call.Name)
		return result
	}

	args := map[string]interface{}{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.Status = StatusValidationFailed
			result.Err = fmt.Errorf("invalid tool arguments: %w", err)
			result.Content = fmt.Sprintf("Parameter validation failed: arguments are not valid JSON: %v", err)
			return result
		}
	}

	if err := e.validate(tool, args); err != nil {
		result.Status = StatusValidationFailed
		result.Err = err
		result.Content = fmt.Sprintf("Parameter validation failed: %v", err)
		return result
	}

	if e.approver != nil {
		allowed, err := e.approver.Approve(ctx, ApprovalRequest{Tool: call.Name, Arguments: args})
		if err != nil {
			result.Status = StatusError
			result.Err = fmt.Errorf("approval failed: %w", err)
			result.Content = fmt.Sprintf("Error: approval failed: %v", err)
			return result
		}
		if !allowed {
			result.Status = StatusDenied
			result.Err = fmt.Errorf("tool call %q denied", call.Name)
			result.Content = "Error: tool call was denied by the user"
			return result
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, err := tool.Execute(callCtx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			result.Status = StatusTimeout
			result.Err = fmt.Errorf("tool %q timed out after %s", call.Name, e.timeout)
			result.Content = fmt.Sprintf("Error: tool timed out after %s", e.timeout)
			return result
		}
		result.Status = StatusError
		result.Err = err
		result.Content = fmt.Sprintf("Error: %v", err)
		return result
	}

	result.Status = StatusOK
	result.Content = output
	return result
}

// validate checks args against the tool's parameter schema. Schemas compile
// once per tool name and are cached.
func (e *Executor) validate(tool Tool, args map[string]interface{}) error {
	schema, err := e.schemaFor(tool)
	if err != nil {
		return fmt.Errorf("invalid parameter schema for %q: %w", tool.Name(), err)
	}
	if schema == nil {
		return nil
	}

	if err := schema.Validate(toJSONValue(args)); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			leaf := verr
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			path := "/" + strings.Join(leaf.InstanceLocation, "/")
			return fmt.Errorf("invalid arguments for %q at %s: %v", tool.Name(), path, err)
		}
		return fmt.Errorf("invalid arguments for %q: %w", tool.Name(), err)
	}
	return nil
}

func (e *Executor) schemaFor(tool Tool) (*jsonschema.Schema, error) {
	name := tool.Name()

	e.mu.Lock()
	defer e.mu.Unlock()
	if schema, ok := e.schemas[name]; ok {
		return schema, nil
	}

	params := tool.Definition().Parameters
	if len(params) == 0 {
		e.schemas[name] = nil
		return nil, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool://"+name, toJSONValue(params)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("tool://" + name)
	if err != nil {
		return nil, err
	}
	e.schemas[name] = schema
	return schema, nil
}

// toJSONValue normalizes a Go value through a JSON round trip, so the
// validator sees the same shapes it would from decoded JSON.
func toJSONValue(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
