package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, LevelError, ParseLevel("Error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, "WARN", LevelWarn.String())
}

func TestConfigureJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drive.log")
	require.NoError(t, Configure("WARN", "json", path))
	t.Cleanup(func() { _ = Configure("INFO", "text", "stdout") })

	Info("hidden %d", 1)
	Warn("item %s not indexed", "abc")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "item abc not indexed", entry["msg"])
}

func TestConfigureBadOutput(t *testing.T) {
	err := Configure("INFO", "text", filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	require.Error(t, err)
}
