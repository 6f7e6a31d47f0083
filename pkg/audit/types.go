package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Role lifecycle events
	EventTypeAuthzRoleCreate EventType = "authz.role_create"
	EventTypeAuthzRoleUpdate EventType = "authz.role_update"
	EventTypeAuthzRoleDelete EventType = "authz.role_delete"

	// Membership events
	EventTypeAuthzRoleMemberAdd    EventType = "authz.role_member_add"
	EventTypeAuthzRoleMemberRemove EventType = "authz.role_member_remove"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeRoleMember ResourceType = "role_member"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// Core fields
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor filters
	TenantID string
	UserID   string

	// Event filters
	EventTypes []EventType
	Status     *EventStatus

	// Resource filters
	ResourceType ResourceType
	ResourceID   string

	// Pagination
	Limit  int
	Offset int
}

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit logs
	RetentionDays int
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}

// Cutoff returns the oldest timestamp kept by the policy
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}
