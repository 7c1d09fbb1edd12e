package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	Configure(dir, false, "info", nil)
	t.Cleanup(Close)

	Store("hello %s", "world")

	_, err := os.Stat(filepath.Join(dir, ".branchmind", "logs", "store.log"))
	require.True(t, os.IsNotExist(err))
}

func TestConfigureEnabledWritesStructuredLine(t *testing.T) {
	dir := t.TempDir()
	Configure(dir, true, "debug", nil)
	t.Cleanup(Close)
	t.Cleanup(func() { delete(loggers, CategoryStore) })

	Store("hello %s", "world")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, ".branchmind", "logs", "store.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello world"`)
	require.Contains(t, string(data), `"cat":"store"`)
}

func TestCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	Configure(dir, true, "debug", map[string]bool{"store": false})
	t.Cleanup(Close)
	t.Cleanup(func() { delete(loggers, CategoryStore) })

	Store("should not appear")
	Close()

	_, err := os.Stat(filepath.Join(dir, ".branchmind", "logs", "store.log"))
	require.True(t, os.IsNotExist(err))
}

func TestLevelFilter(t *testing.T) {
	dir := t.TempDir()
	Configure(dir, true, "warn", nil)
	t.Cleanup(Close)
	t.Cleanup(func() { delete(loggers, CategoryStore) })

	StoreDebug("debug line")
	StoreWarn("warn line")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, ".branchmind", "logs", "store.log"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "debug line")
	require.Contains(t, string(data), "warn line")
}
