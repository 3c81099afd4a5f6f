// Package tools provides the tool execution port: tool and source
// interfaces, a composite registry, and a bounded-concurrency executor with
// schema validation and approval gating.
package tools

import (
	"context"

	"github.com/orkestra-dev/orkestra/pkg/llms"
)

// Tool is one callable tool. Arguments arrive as an already-parsed JSON
// object.
type Tool interface {
	// Name is the unique tool name offered to the model.
	Name() string

	// Definition describes the tool to the model, including its JSON
	// Schema parameters.
	Definition() llms.ToolDefinition

	// Execute runs the tool and returns its textual result.
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Source provides a set of tools. Sources may connect lazily; Tools reports
// connection failures.
type Source interface {
	// Name identifies the source.
	Name() string

	// Tools returns the source's tools.
	Tools(ctx context.Context) ([]Tool, error)
}

// Approver decides whether a tool call may run. A nil Approver in the
// executor means all calls are allowed.
type Approver interface {
	// Approve returns false to deny the call. An error aborts the call
	// with the error surfaced to the model.
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApprovalRequest describes one pending tool call.
type ApprovalRequest struct {
	Tool      string
	Arguments map[string]interface{}
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}
