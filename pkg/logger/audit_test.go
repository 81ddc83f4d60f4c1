package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	records []AuditRecord
}

func (c *captureSink) Persist(rec AuditRecord) {
	c.records = append(c.records, rec)
}

func TestAuditLogger_WritesLogAndSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &captureSink{}
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), sink)

	al.LogAuthAttempt(AuditEvent{
		EventType:     EventLoginFailed,
		Username:      "trader1",
		IPAddress:     "10.0.0.1",
		FailureReason: "invalid_password",
	})

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "auth", rec.AuditType)
	assert.Equal(t, EventLoginFailed, rec.EventType)
	assert.Equal(t, "t*****1", rec.Username)
	assert.False(t, rec.Success)
	assert.False(t, rec.Timestamp.IsZero())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "login_failed", line["event_type"])
	assert.Equal(t, "t*****1", line["username"])
	assert.Equal(t, "invalid_password", line["failure_reason"])
}

func TestAuditLogger_LockoutRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := &captureSink{}
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)), sink)
	until := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	al.LogLockout(EventAccountLocked, "alice", "10.0.0.2", &until)
	al.LogLockout(EventAccountUnlocked, "alice", "", nil)

	require.Len(t, sink.records, 2)
	assert.False(t, sink.records[0].Success)
	assert.Equal(t, "2025-03-01T10:00:00Z", sink.records[0].Metadata["locked_until"])
	assert.True(t, sink.records[1].Success)
	assert.Nil(t, sink.records[1].Metadata)
}

func TestAuditLogger_NoSink(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.LogPasswordChange("user-1", "", true)
	assert.Contains(t, buf.String(), `"event_type":"password_changed"`)
}
