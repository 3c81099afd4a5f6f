package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// TaskRunner executes a task on a named sub-agent. The runtime manager
// implements this over fresh orchestrator instances.
type TaskRunner interface {
	// RunTask runs a task to completion on the named agent. When resume is
	// true the agent continues its previous delegated conversation instead
	// of starting fresh.
	RunTask(ctx context.Context, agent, task string, resume bool) (string, error)

	// Agents lists the delegation targets.
	Agents() []string
}

// DefaultMaxDelegationDepth stops delegation chains after one hop.
const DefaultMaxDelegationDepth = 1

type delegationDepthKey struct{}

// DelegationDepth reads the current delegation depth from the context.
func DelegationDepth(ctx context.Context) int {
	depth, _ := ctx.Value(delegationDepthKey{}).(int)
	return depth
}

// WithDelegationDepth marks the context as running at the given depth.
func WithDelegationDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, delegationDepthKey{}, depth)
}

// backgroundTask is one in-flight background delegation.
type backgroundTask struct {
	agent  string
	done   chan struct{}
	output string
	err    error
}

// DelegateSource exposes the assign_task and task_status tools for
// delegating work to sub-agents.
type DelegateSource struct {
	runner   TaskRunner
	maxDepth int

	mu    sync.Mutex
	tasks map[string]*backgroundTask
}

func NewDelegateSource(runner TaskRunner, maxDepth int) *DelegateSource {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDelegationDepth
	}
	return &DelegateSource{
		runner:   runner,
		maxDepth: maxDepth,
		tasks:    make(map[string]*backgroundTask),
	}
}

func (s *DelegateSource) Name() string {
	return "delegate"
}

func (s *DelegateSource) Tools(ctx context.Context) ([]Tool, error) {
	return []Tool{
		&assignTaskTool{source: s},
		&taskStatusTool{source: s},
	}, nil
}

var _ Source = (*DelegateSource)(nil)

func (s *DelegateSource) availableAgents() string {
	agents := s.runner.Agents()
	sort.Strings(agents)
	if len(agents) == 0 {
		return "none"
	}
	return strings.Join(agents, ", ")
}

func (s *DelegateSource) agentKnown(name string) bool {
	for _, agent := range s.runner.Agents() {
		if agent == name {
			return true
		}
	}
	return false
}

type assignTaskTool struct {
	source *DelegateSource
}

func (t *assignTaskTool) Name() string {
	return "assign_task"
}

func (t *assignTaskTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name: "assign_task",
		Description: "Delegate a task to a sub-agent and return its result. " +
			"Set background=true to start the task without waiting; poll it with task_status.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"agent": map[string]interface{}{
					"type":        "string",
					"description": "Name of the sub-agent to run the task on.",
				},
				"task": map[string]interface{}{
					"type":        "string",
					"description": "The task to perform, stated completely and self-contained.",
				},
				"resume": map[string]interface{}{
					"type":        "boolean",
					"description": "Continue the agent's previous delegated conversation.",
				},
				"background": map[string]interface{}{
					"type":        "boolean",
					"description": "Run in the background and return a task handle immediately.",
				},
			},
			"required": []interface{}{"agent", "task"},
		},
	}
}

func (t *assignTaskTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	agent, _ := args["agent"].(string)
	task, _ := args["task"].(string)
	resume, _ := args["resume"].(bool)
	background, _ := args["background"].(bool)

	s := t.source
	if !s.agentKnown(agent) {
		return "", fmt.Errorf("unknown agent %q; available agents: %s", agent, s.availableAgents())
	}

	depth := DelegationDepth(ctx)
	if depth >= s.maxDepth {
		return "", fmt.Errorf("maximum delegation depth (%d) reached", s.maxDepth)
	}

	if background {
		return s.startBackground(agent, task, resume, depth), nil
	}

	return s.runner.RunTask(WithDelegationDepth(ctx, depth+1), agent, task, resume)
}

// startBackground launches the task detached from the caller's context and
// returns a handle for task_status.
func (s *DelegateSource) startBackground(agent, task string, resume bool, depth int) string {
	id := uuid.NewString()
	bt := &backgroundTask{agent: agent, done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[id] = bt
	s.mu.Unlock()

	go func() {
		ctx := WithDelegationDepth(context.Background(), depth+1)
		bt.output, bt.err = s.runner.RunTask(ctx, agent, task, resume)
		close(bt.done)
	}()

	return fmt.Sprintf("Task started in background on agent %q. Handle: %s", agent, id)
}

type taskStatusTool struct {
	source *DelegateSource
}

func (t *taskStatusTool) Name() string {
	return "task_status"
}

func (t *taskStatusTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "task_status",
		Description: "Check a background task started by assign_task. Returns its result once finished.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"handle": map[string]interface{}{
					"type":        "string",
					"description": "Task handle returned by assign_task.",
				},
			},
			"required": []interface{}{"handle"},
		},
	}
}

func (t *taskStatusTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	handle, _ := args["handle"].(string)

	t.source.mu.Lock()
	bt, ok := t.source.tasks[handle]
	t.source.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown task handle %q", handle)
	}

	select {
	case <-bt.done:
		if bt.err != nil {
			return "", fmt.Errorf("task on agent %q failed: %w", bt.agent, bt.err)
		}
		return bt.output, nil
	default:
		return fmt.Sprintf("Task on agent %q is still running.", bt.agent), nil
	}
}
