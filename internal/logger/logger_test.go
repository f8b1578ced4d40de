package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLogFilePathCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	got, err := resolveLogFilePath(Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, defaultLogFilename), got)

	_, err = os.Stat(got)
	assert.NoError(t, err)
}

func TestNewReleaseWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	log := New("release", Options{Dir: dir, Filename: "release.log"})
	log.Info("codes generated")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(dir, "release.log"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(content))
	assert.True(t, strings.HasPrefix(line, "{"), "expected JSON line, got %q", line)
	assert.Contains(t, line, `"message":"codes generated"`)
	assert.Contains(t, line, `"level":"info"`)
}

func TestZFallsBackBeforeInit(t *testing.T) {
	old := L
	L = nil
	t.Cleanup(func() { L = old })

	assert.NotNil(t, Z())
	assert.NotNil(t, S())
}

func TestNormalizePositiveInt(t *testing.T) {
	assert.Equal(t, 5, normalizePositiveInt(5, 10))
	assert.Equal(t, 10, normalizePositiveInt(0, 10))
	assert.Equal(t, 10, normalizePositiveInt(-1, 10))
}
