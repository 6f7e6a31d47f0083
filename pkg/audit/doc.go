// Package audit records who changed which role, and how.
//
// # Overview
//
// Every committed role mutation (create, update, delete, member add, member remove)
// produces one AuditEvent, as does every failed attempt. Events are stored in the
// audit_logs table by DBLogger and can be searched per tenant through Handlers.
//
// # Usage Example
//
//	event := audit.NewEvent(ctx, audit.EventTypeAuthzRoleUpdate, audit.StatusFor(err))
//	event.TenantID = session.TenantID.String()
//	event.ResourceType = audit.ResourceTypeRole
//	event.ResourceID = roleID.String()
//	event.Metadata["updated"] = result.Updated
//	logger.Log(ctx, event)
//
// # Retention Policy
//
// Default: 90 days. DBStore.Cleanup (or DBLogger.Purge) removes older events and is
// scheduled by the server.
//
// # Related Packages
//
//   - pkg/rbac: emits the events
package audit
