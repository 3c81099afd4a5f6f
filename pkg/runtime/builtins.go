package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/tools"
)

type currentTimeParams struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Europe/Berlin. Defaults to UTC."`
}

// builtinSource provides the tools every session carries regardless of
// configured MCP servers or sub-agents.
func builtinSource() *tools.LocalSource {
	source := tools.NewLocalSource("builtin")
	source.Register(tools.MustFuncTool("current_time",
		"Returns the current date and time, optionally in a given timezone.",
		func(ctx context.Context, params currentTimeParams) (string, error) {
			location := time.UTC
			if params.Timezone != "" {
				var err error
				location, err = time.LoadLocation(params.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q: %w", params.Timezone, err)
				}
			}
			return time.Now().In(location).Format(time.RFC1123), nil
		}))
	return source
}
