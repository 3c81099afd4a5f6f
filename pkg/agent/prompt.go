package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/template"
	"time"
)

// DefaultSystemPrompt is used when the agent config supplies no template.
const DefaultSystemPrompt = `You are a helpful AI assistant.

Current date: {{.Date}}
Platform: {{.Platform}}
Working directory: {{.WorkingDir}}
{{- if .SubAgents}}

Available sub-agents (use the assign_task tool to delegate):
{{- range .SubAgents}}
- {{.}}
{{- end}}
{{- end}}
{{- if .FolderTree}}

Files in the working directory:
{{.FolderTree}}
{{- end}}`

// Environment is the runtime state injected into the system prompt template.
// It is collected once per send so tests can pin values.
type Environment struct {
	Date       string
	Platform   string
	WorkingDir string
	SubAgents  []string
	FolderTree string
}

// CollectEnvironment gathers the ambient environment for prompt rendering.
// subAgents lists delegation targets; an empty working directory falls back
// to the process cwd.
func CollectEnvironment(workingDir string, subAgents []string) Environment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	agents := append([]string(nil), subAgents...)
	sort.Strings(agents)
	return Environment{
		Date:       time.Now().Format("2006-01-02"),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		WorkingDir: workingDir,
		SubAgents:  agents,
		FolderTree: FolderTree(workingDir, 2, 50),
	}
}

// RenderSystemPrompt executes the prompt template against the environment.
func RenderSystemPrompt(tmpl string, env Environment) (string, error) {
	if tmpl == "" {
		tmpl = DefaultSystemPrompt
	}
	parsed, err := template.New("system_prompt").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("invalid system prompt template: %w", err)
	}
	var sb strings.Builder
	if err := parsed.Execute(&sb, env); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return sb.String(), nil
}

// FolderTree renders a bounded directory listing. Recursion stops at
// maxDepth levels and output is truncated after maxEntries lines; hidden
// entries are skipped.
func FolderTree(root string, maxDepth, maxEntries int) string {
	if root == "" || maxDepth <= 0 || maxEntries <= 0 {
		return ""
	}

	var lines []string
	truncated := false

	var walk func(dir, indent string, depth int)
	walk = func(dir, indent string, depth int) {
		if truncated || depth > maxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			if len(lines) >= maxEntries {
				truncated = true
				return
			}
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			lines = append(lines, indent+name)
			if entry.IsDir() {
				walk(filepath.Join(dir, entry.Name()), indent+"  ", depth+1)
			}
		}
	}
	walk(root, "", 1)

	if truncated {
		lines = append(lines, "...")
	}
	return strings.Join(lines, "\n")
}
