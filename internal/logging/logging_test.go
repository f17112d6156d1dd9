package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture routes the global logger into a buffer for the rest of the test.
func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Init(Config{Level: level, Output: &buf})
	t.Cleanup(func() {
		Close()
		Init(DefaultConfig())
	})
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   DebugLevel,
		" INFO ":  InfoLevel,
		"warning": WarnLevel,
		"Warn":    WarnLevel,
		"error":   ErrorLevel,
		"fatal":   FatalLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	} {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestComponent_TagsEntries(t *testing.T) {
	buf := capture(t, DebugLevel)

	log := Component("session")
	log.Info().Str("session", "01J").Msg("session started")
	agentLog := Component("agent")
	agentLog.Debug().Msg("spawned")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "session", entries[0]["component"])
	assert.Equal(t, "01J", entries[0]["session"])
	assert.Equal(t, "session started", entries[0]["message"])
	assert.Contains(t, entries[0], "time")
	assert.Equal(t, "agent", entries[1]["component"])
	assert.Equal(t, "debug", entries[1]["level"])
}

func TestComponent_BoundAtCreation(t *testing.T) {
	first := capture(t, InfoLevel)
	early := Component("message")

	var second bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &second})

	early.Info().Msg("old sink")
	late := Component("message")
	late.Info().Msg("new sink")

	assert.Contains(t, first.String(), "old sink")
	assert.NotContains(t, first.String(), "new sink")
	assert.Contains(t, second.String(), "new sink")
}

func TestSetLevel_FromConfig(t *testing.T) {
	buf := capture(t, InfoLevel)
	before := Component("serve")

	SetLevel(ParseLevel("error"))
	after := Component("serve")
	after.Warn().Msg("dropped")
	afterErr := Component("serve")
	afterErr.Error().Msg("kept")
	before.Warn().Msg("earlier component keeps its level")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "earlier component keeps its level")
}

// Without --print-logs the CLI discards console output and writes JSON to
// a file under the state directory.
func TestInit_FileOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "log")
	t.Cleanup(func() {
		Close()
		Init(DefaultConfig())
	})
	Init(Config{Level: InfoLevel, Output: io.Discard, LogToFile: true, LogDir: dir})

	path := GetLogFilePath()
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "threadbridge-"))

	serveLog := Component("serve")
	serveLog.Info().Msg("starting threadbridge")
	Close()
	assert.Empty(t, GetLogFilePath())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"serve"`)
	assert.Contains(t, string(data), "starting threadbridge")
}

func TestInit_PrettyConsole(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(func() { Init(DefaultConfig()) })
	Init(Config{Level: InfoLevel, Output: &buf, Pretty: true})

	serverLog := Component("server")
	serverLog.Info().Msg("listening")

	out := buf.String()
	assert.Contains(t, out, "listening")
	assert.Contains(t, out, "component=")
	assert.False(t, json.Valid([]byte(strings.TrimSpace(out))), "console output is not JSON")
}

func TestInit_FillsDefaults(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })
	Init(Config{Level: WarnLevel})

	assert.Equal(t, WarnLevel, Logger.GetLevel())
	assert.Empty(t, GetLogFilePath())
}
