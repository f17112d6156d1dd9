// Package formatter renders tool invocations as one-line chat summaries.
package formatter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Formatter renders a tool use. An empty result means the tool use is not
// shown.
type Formatter interface {
	Format(tool types.ToolUse) string
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(tool types.ToolUse) string

// Format implements Formatter.
func (f FormatterFunc) Format(tool types.ToolUse) string { return f(tool) }

type globFormatter struct {
	pattern   string
	formatter Formatter
}

// Registry maps tool names to formatters. Exact names take precedence over
// glob patterns; globs are tried in registration order. Tools nothing
// matches use the generic fallback.
type Registry struct {
	mu    sync.RWMutex
	exact map[string]Formatter
	globs []globFormatter
}

// NewRegistry returns a registry populated with the built-in formatters.
func NewRegistry() *Registry {
	r := &Registry{exact: make(map[string]Formatter)}
	r.loadDefaults()
	return r
}

// Register adds a formatter for a tool name or doublestar pattern.
func (r *Registry) Register(pattern string, f Formatter) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid tool pattern %q", pattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !hasMeta(pattern) {
		r.exact[pattern] = f
		return nil
	}
	for i, g := range r.globs {
		if g.pattern == pattern {
			r.globs[i].formatter = f
			return nil
		}
	}
	r.globs = append(r.globs, globFormatter{pattern: pattern, formatter: f})
	return nil
}

// Clear removes every registered formatter, including the built-ins.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact = make(map[string]Formatter)
	r.globs = nil
}

// Lookup returns the formatter registered for a tool name.
func (r *Registry) Lookup(name string) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.exact[name]; ok {
		return f, true
	}
	for _, g := range r.globs {
		if ok, _ := doublestar.Match(g.pattern, name); ok {
			return g.formatter, true
		}
	}
	return nil, false
}

// Format renders tool with its formatter or the fallback.
func (r *Registry) Format(tool types.ToolUse) string {
	if f, ok := r.Lookup(tool.Name); ok {
		return f.Format(tool)
	}
	return Fallback(tool)
}

// loadDefaults registers the built-in one-line summaries.
func (r *Registry) loadDefaults() {
	defaults := map[string]Formatter{
		"Bash":      inputFormatter("💻", "", "command", true),
		"Read":      inputFormatter("📄", "Read", "file_path", true),
		"Write":     inputFormatter("📝", "Write", "file_path", true),
		"Edit":      inputFormatter("✏️", "Edit", "file_path", true),
		"MultiEdit": inputFormatter("✏️", "Edit", "file_path", true),
		"Glob":      inputFormatter("🔍", "Glob", "pattern", true),
		"Grep":      inputFormatter("🔍", "Grep", "pattern", true),
		"WebFetch":  inputFormatter("🌐", "Fetch", "url", false),
		"WebSearch": inputFormatter("🌐", "Search", "query", false),
		"Task":      inputFormatter("🤖", "Task:", "description", false),
		// The task list executor renders todos.
		"TodoWrite": FormatterFunc(func(types.ToolUse) string { return "" }),
	}
	for name, f := range defaults {
		r.exact[name] = f
	}
	r.globs = append(r.globs, globFormatter{pattern: "mcp__*", formatter: FormatterFunc(formatMCP)})
}

// inputFormatter renders "<icon> <verb> <input[key]>", falling back to the
// generic form when the key is missing.
func inputFormatter(icon, verb, key string, code bool) Formatter {
	return FormatterFunc(func(tool types.ToolUse) string {
		v, ok := tool.Input[key].(string)
		if !ok || v == "" {
			return Fallback(tool)
		}
		v = truncate(firstLine(v), 120)
		if code {
			v = "`" + v + "`"
		}
		parts := []string{icon}
		if verb != "" {
			parts = append(parts, verb)
		}
		return strings.Join(append(parts, v), " ")
	})
}

// formatMCP renders "mcp__server__tool" as "🔌 server/tool".
func formatMCP(tool types.ToolUse) string {
	rest := strings.TrimPrefix(tool.Name, "mcp__")
	server, name, ok := strings.Cut(rest, "__")
	if !ok {
		return Fallback(tool)
	}
	return fmt.Sprintf("🔌 **%s**/%s", server, name)
}

// Fallback renders a tool name followed by a compact input summary.
func Fallback(tool types.ToolUse) string {
	var b strings.Builder
	b.WriteString("🔧 **")
	b.WriteString(tool.Name)
	b.WriteString("**")

	if len(tool.Input) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(tool.Input))
	for k := range tool.Input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	const maxKeys = 3
	var fields []string
	for i, k := range keys {
		if i == maxKeys {
			fields = append(fields, "…")
			break
		}
		fields = append(fields, fmt.Sprintf("%s=%s", k, truncate(firstLine(fmt.Sprint(tool.Input[k])), 40)))
	}
	b.WriteString(" ")
	b.WriteString(strings.Join(fields, " "))
	return b.String()
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{\\")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
