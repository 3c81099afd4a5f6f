package runtime

import (
	"context"
	"fmt"

	"github.com/orkestra-dev/orkestra/pkg/agent"
	"github.com/orkestra-dev/orkestra/pkg/metrics"
	"github.com/orkestra-dev/orkestra/pkg/tools"
)

// Agents lists the delegation targets of the active agent.
func (m *Manager) Agents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	agentCfg, err := m.cfg.Agent(m.agentName)
	if err != nil {
		return nil
	}
	return append([]string(nil), agentCfg.SubAgents...)
}

// RunTask executes a delegated task on a child orchestrator built from the
// named agent template. The child shares the session's conversation store
// under a per-agent key; resume continues that conversation, otherwise it
// starts fresh.
func (m *Manager) RunTask(ctx context.Context, agentName, task string, resume bool) (string, error) {
	m.mu.Lock()
	cfg := m.cfg
	provider := m.provider
	store := m.store
	registry := m.registry
	executor := m.executor
	parentModel := m.orchestrator.Model()
	m.mu.Unlock()

	agentCfg, err := cfg.Agent(agentName)
	if err != nil {
		return "", err
	}

	conversationID := "task:" + agentName
	if !resume {
		if err := store.DeleteConversation(ctx, conversationID); err != nil {
			return "", fmt.Errorf("failed to reset delegated conversation: %w", err)
		}
	}

	opts := orchestratorOptions(agentCfg)
	if opts.Model == "" {
		opts.Model = parentModel
	}
	// Children never advertise assign_task themselves; depth enforcement in
	// the tool is the second line of defense.
	opts.SubAgents = nil

	child := agent.NewOrchestrator(
		provider, store, registry, executor, metrics.NewSession(),
		agent.NullSink{}, opts,
	)

	result, err := child.Send(ctx, task, agent.SendOptions{ConversationID: conversationID})
	if err != nil {
		return "", fmt.Errorf("delegated task on agent %q failed: %w", agentName, err)
	}
	return result.Content, nil
}

var _ tools.TaskRunner = (*Manager)(nil)
