// Package rbac manages tenant roles, their permission overrides and their members.
//
// # Overview
//
// Permissions come from two catalogs owned by another service: the action catalog
// (operations such as "orders.read") and the data-scope catalog (which records of a
// module a role may see). Both are trees. Category nodes group leaves and are never
// assignable; leaves carry an inherited default that may be absent.
//
// A role stores only its deviations from those defaults. An override row exists for a
// leaf exactly when the role's value differs from what it would otherwise inherit:
//
//	effective = override   if present
//	          = default    otherwise (may be "none")
//
// # Components
//
//   - Tree: arena over a flat catalog node list, ordered by index then id
//   - Catalog / SQLCatalog / StaticCatalog: read catalog snapshots per tenant and app
//   - Store: roles, role_actions, role_datas and role_members persistence
//   - Resolver: merges catalog defaults with stored overrides into an EffectiveTree
//   - Engine: turns desired-state submissions into override writes
//   - Service: role directory, membership and permission edits scoped to a Session
//   - Handlers: HTTP surface of Service
//
// # Reconciliation
//
// Clients edit roles by sending back the tree they were shown, with a desired value per
// leaf. Each entry echoes the default and prior value it was rendered with. Plan decides
// one write per changed entry:
//
//	no override, no default, value desired  -> create
//	no override otherwise                   -> ErrStateConflict
//	override, value desired                 -> update
//	override, no value desired              -> delete (revert to default)
//
// Entries whose desired value equals the prior value are skipped, so resubmitting an
// unchanged view is a no-op. Planning finishes before anything is written and the first
// conflict aborts the call, so a call either applies every decision or none.
//
// Role create and update run the role row write and both reconciliations in a single
// transaction:
//
//	id, err := svc.Create(ctx, session, rbac.RoleInfo{
//		Name:    "night shift",
//		Actions: []rbac.DesiredPermission{perm.Desired(rbac.Bool(true))},
//	})
//
// # Concurrency
//
// Unique indexes back role names per tenant, override identity per role and member
// identity per role. A concurrent writer that loses a race gets ErrDuplicateName for
// names and ErrPersistence for overrides; clients re-read and retry.
//
// # Notifications
//
// After a mutation commits, Service publishes a RoleChanged event through its Notifier.
// RedisNotifier sends it on the warden:role-changed channel so enforcement points can
// drop cached permissions. Publish failures are logged and never fail the write.
//
// # Built-in Roles
//
// InitializeBuiltInRoles seeds Administrator and Auditor for a tenant. Built-in roles can
// be renamed and edited but not deleted; Delete reports them as not found.
//
// # Related Packages
//
//   - pkg/audit: records every role mutation
//   - pkg/middleware: builds the Session from request headers
//   - pkg/observability: logging, metrics and tracing used by Service and Engine
package rbac
