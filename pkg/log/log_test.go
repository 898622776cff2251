package log_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/log"
)

func TestInitJSONOutputWritesTimestampedLines(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &buf})

	log.WithComponent("registry").Info().Msg("hello")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "registry", decoded["component"])
	require.Equal(t, "hello", decoded["message"])
}

func TestAuditEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &buf})

	log.Audit(domain.AuditEntry{Timestamp: 123, Actor: "alice", Action: "publish", Package: "widget", Result: "ok"})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "alice", decoded["actor"])
	require.Equal(t, "publish", decoded["action"])
}
