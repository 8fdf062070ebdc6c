package log_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tdh8316/nameprobe/internal/log"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf, log.Options{Format: log.FormatJSON})
	l.WithField("username", "alice").Info("scan started")
	l.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "scan started", entry["msg"])
	require.Equal(t, "alice", entry["username"])
	require.Equal(t, "info", entry["level"])
}

func TestNewVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf, log.Options{Verbose: true, NoColor: true})
	require.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.Debug("probe queued")
	require.Contains(t, buf.String(), "probe queued")
}

func TestParseFormat(t *testing.T) {
	f, err := log.ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, log.FormatText, f)

	f, err = log.ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, log.FormatJSON, f)

	_, err = log.ParseFormat("xml")
	require.Error(t, err)
}
