package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RoleChangedChannel is the Redis channel role change events are published on
const RoleChangedChannel = "warden:role-changed"

// Change reasons carried by RoleChanged
const (
	ReasonCreated       = "created"
	ReasonUpdated       = "updated"
	ReasonDeleted       = "deleted"
	ReasonMembersAdded  = "members_added"
	ReasonMemberRemoved = "member_removed"
)

// RoleChanged tells downstream enforcement points that a role's permissions or members changed
type RoleChanged struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	RoleID    uuid.UUID `json:"role_id"`
	Reason    string    `json:"reason"`
	ChangedBy uuid.UUID `json:"changed_by"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes role change events after a write commits
type Notifier interface {
	Publish(ctx context.Context, event RoleChanged) error
}

// NopNotifier discards events
type NopNotifier struct{}

// Publish does nothing
func (NopNotifier) Publish(context.Context, RoleChanged) error { return nil }

// RedisNotifier publishes events as JSON on a Redis pub/sub channel
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier creates a notifier publishing on RoleChangedChannel
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, channel: RoleChangedChannel}
}

// Publish sends event to subscribers of the channel
func (n *RedisNotifier) Publish(ctx context.Context, event RoleChanged) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal role change: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}
