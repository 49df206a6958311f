package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSaveBus_PreservesOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveBus(path, BusConfig{MailboxSize: 1024, Overflow: "drop-newest", DiagnosticsBuffer: 8}))

	content := readFile(t, path)
	require.Contains(t, content, "# OpenTelemetry tracing")
	require.Contains(t, content, "# fanout demo ticker")

	cfg := loadYAML(t, content)
	require.Equal(t, BusConfig{MailboxSize: 1024, Overflow: "drop-newest", DiagnosticsBuffer: 8}, cfg.Bus)
	require.Equal(t, Defaults().Ticker, cfg.Ticker)
	require.Equal(t, Defaults().Log, cfg.Log)
}

func TestSaveBus_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, SaveBus(path, BusConfig{MailboxSize: 0}))

	cfg := loadYAML(t, readFile(t, path))
	require.Zero(t, cfg.Bus.MailboxSize)
}

func TestSaveBus_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := SaveBus(path, BusConfig{MailboxSize: -5})
	require.ErrorContains(t, err, "bus.mailbox_size")

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestSaveBus_RejectsNonMappingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o600))

	err := SaveBus(path, Defaults().Bus)
	require.ErrorContains(t, err, "top level must be a mapping")
}

func TestSaveTickerThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveTickerThresholds(path, 150, 50))

	content := readFile(t, path)
	cfg := loadYAML(t, content)
	require.Equal(t, 150.0, cfg.Ticker.High)
	require.Equal(t, 50.0, cfg.Ticker.Low)
	require.Equal(t, Defaults().Ticker.Symbols, cfg.Ticker.Symbols)
	require.Contains(t, content, "# alert when a price rises to or above this")
}

func TestSaveTickerThresholds_AddsSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  mailbox_size: 8\n"), 0o600))

	require.NoError(t, SaveTickerThresholds(path, 2, 1))

	cfg := loadYAML(t, readFile(t, path))
	require.Equal(t, 8, cfg.Bus.MailboxSize)
	require.Equal(t, 2.0, cfg.Ticker.High)
	require.Equal(t, 1.0, cfg.Ticker.Low)
}

func TestSaveTickerThresholds_RejectsInverted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.ErrorContains(t, SaveTickerThresholds(path, 1, 2), "must be below")
}
