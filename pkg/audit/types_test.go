package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

func TestAuditEvent_ToJSON(t *testing.T) {
	event := &AuditEvent{
		ID:           1,
		Timestamp:    time.Now().UTC(),
		EventType:    EventTypeAuthzRoleMemberAdd,
		Status:       EventStatusSuccess,
		TenantID:     "tenant-1",
		UserID:       "user-1",
		ResourceType: ResourceTypeRoleMember,
		ResourceID:   "role-1",
		Metadata:     map[string]interface{}{"inserted": 3},
	}

	jsonData, err := event.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(jsonData)
	require.NoError(t, err)
	assert.Equal(t, event.EventType, parsed.EventType)
	assert.Equal(t, event.TenantID, parsed.TenantID)
	assert.Equal(t, event.ResourceType, parsed.ResourceType)
	assert.Equal(t, float64(3), parsed.Metadata["inserted"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("{not json"))
	assert.Error(t, err)
}

func TestRetentionPolicy_Cutoff(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 90, DefaultRetentionPolicy().RetentionDays)
	assert.Equal(t, time.Date(2026, 3, 24, 12, 0, 0, 0, time.UTC), RetentionPolicy{RetentionDays: 7}.Cutoff(now))
}

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-9")

	event := NewEvent(ctx, EventTypeAuthzRoleCreate, EventStatusFailure)
	assert.Equal(t, EventTypeAuthzRoleCreate, event.EventType)
	assert.Equal(t, EventStatusFailure, event.Status)
	assert.Equal(t, "req-9", event.RequestID)
	assert.NotNil(t, event.Metadata)
	assert.False(t, event.Timestamp.IsZero())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, EventStatusSuccess, StatusFor(nil))
	assert.Equal(t, EventStatusFailure, StatusFor(errors.New("x")))
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	assert.NoError(t, logger.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, logger.Close())
}
