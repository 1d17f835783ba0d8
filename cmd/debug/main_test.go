package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/compool-bridge/db"
	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestParseClock(t *testing.T) {
	h, m, err := parseClock("23:58")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 58, m)

	for _, bad := range []string{"2358", "24:00", "10:60", "aa:00"} {
		_, _, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestSkewCommand(t *testing.T) {
	out, err := execute(t, "skew", "23:58", "00:02")
	require.NoError(t, err)
	assert.Equal(t, "skew 1436 minutes, correct: false\n", out)

	out, err = execute(t, "skew", "10:00", "10:10")
	require.NoError(t, err)
	assert.Equal(t, "skew 10 minutes, correct: true\n", out)
}

func TestJournalCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	j := db.NewJournal(conn.DB)
	require.NoError(t, j.Record(context.Background(), model.CommandRecord{
		ID: "1", IssuedAt: time.Now(), Op: "toggle_aux", Target: "aux3", Duration: 40 * time.Millisecond,
	}))
	require.NoError(t, j.Record(context.Background(), model.CommandRecord{
		ID: "2", IssuedAt: time.Now().Add(-90 * 24 * time.Hour), Op: "set_time", Target: "clock", Error: "nak",
	}))
	require.NoError(t, conn.Close())

	out, err := execute(t, "journal", "--db", path, "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "toggle_aux")
	assert.Contains(t, out, "nak")

	out, err = execute(t, "journal", "prune", "--db", path)
	require.NoError(t, err)
	assert.Equal(t, "Removed 1 journal entries\n", out)
}

func TestInstallServiceCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("device:\n  path: /dev/ttyUSB0\npool:\n  pump_aux: 1\n"), 0o600))
	unitPath := filepath.Join(dir, "compool-bridge.service")

	_, err := execute(t, "install-service", "--config", cfgPath, "--unit", unitPath, "--binary", "/usr/bin/compool-bridge")
	require.NoError(t, err)

	data, err := os.ReadFile(unitPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ExecStart=/usr/bin/compool-bridge --config "+cfgPath)
}
