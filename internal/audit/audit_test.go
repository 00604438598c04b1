package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-chat/pkg/log"
)

func TestLogWritesAuditFields(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(log.Config{Level: "info"}, &buf)
	ctx := log.WithLogger(context.Background(), logger)

	LogWithDetail(ctx, ActionChannelDelete, "alice", "ch1", "private", "channel deleted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionChannelDelete, entry[FieldAction])
	assert.Equal(t, "alice", entry[log.FieldUserID])
	assert.Equal(t, "ch1", entry[log.FieldTargetID])
	assert.Equal(t, "private", entry[FieldDetail])
	assert.Equal(t, "channel deleted", entry["message"])
}
