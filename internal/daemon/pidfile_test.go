package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPIDFile(t *testing.T) *PIDFile {
	t.Helper()
	return NewPIDFile(filepath.Join(t.TempDir(), "nested", "warden.pid"))
}

func TestWriteAndRead(t *testing.T) {
	p := testPIDFile(t)
	require.NoError(t, p.Write())

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRead_MissingFile(t *testing.T) {
	p := testPIDFile(t)
	_, err := p.Read()
	assert.Error(t, err)
}

func TestRead_InvalidContent(t *testing.T) {
	p := testPIDFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(p.Path), 0o755))
	require.NoError(t, os.WriteFile(p.Path, []byte("not a pid"), 0o644))

	_, err := p.Read()
	assert.Error(t, err)
}

func TestIsRunning(t *testing.T) {
	p := testPIDFile(t)

	_, running := p.IsRunning()
	assert.False(t, running, "no pid file means not running")

	require.NoError(t, p.Write())
	pid, running := p.IsRunning()
	assert.True(t, running, "our own process is alive")
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, p.Remove())
	_, running = p.IsRunning()
	assert.False(t, running)
}
