package audit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditEventsCarryStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf)

	logger.AccountCreated(7, "EMBY", "2_screens", 3, "emby-abc123")
	out := buf.String()
	require.Contains(t, out, "event=ACCOUNT_CREATED")
	require.Contains(t, out, "user_id=7")
	require.Contains(t, out, "server_id=3")
	require.Contains(t, out, "username=emby-abc123")

	buf.Reset()
	logger.DeviceLimitsEnforced(12, 4)
	out = buf.String()
	require.Contains(t, out, "event=DEVICE_LIMIT_ENFORCEMENT")
	require.Contains(t, out, "devices_removed=4")
}
