package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
)

// maxRoleNameLength matches the roles.name column
const maxRoleNameLength = 255

// Service is the role service: role directory, permission edits and membership,
// each call scoped to the caller's session.
type Service struct {
	store        *Store
	reads        *Store
	resolver     *Resolver
	readResolver *Resolver
	engine       *Engine
	audit        audit.Logger
	notifier     Notifier
	metrics      *observability.Metrics
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithReadStore serves listings and lookups from a replica store.
// Reads that follow a write in the same call always use the primary.
func WithReadStore(reads *Store) ServiceOption {
	return func(s *Service) {
		if reads != nil {
			s.reads = reads
		}
	}
}

// WithAuditLogger records role mutations
func WithAuditLogger(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithNotifier publishes role changes after commit
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics instruments the service and its engine
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a role service over the primary store
func NewService(store *Store, catalog Catalog, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		reads:    store,
		audit:    audit.NewNoOpLogger(),
		notifier: NopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.resolver = NewResolver(catalog, s.store)
	s.readResolver = NewResolver(catalog, s.reads)
	s.engine = NewEngine(s.store, catalog, s.metrics)
	return s
}

// Create inserts a role and its initial overrides in one transaction.
// info.ID is used when set, otherwise an id is generated.
func (s *Service) Create(ctx context.Context, session Session, info RoleInfo) (uuid.UUID, error) {
	ctx, span := s.startSpan(ctx, "Create", session)
	defer span.End()

	roleID := info.ID
	if roleID == uuid.Nil {
		roleID = uuid.New()
	}
	span.SetAttributes(attribute.String("role.id", roleID.String()))

	var result ReconcileResult
	name, err := validateRoleName(info.Name)
	if err == nil {
		err = s.store.RunInTx(ctx, func(tx *Store) error {
			taken, err := tx.RoleNameTaken(ctx, session.TenantID, name, uuid.Nil)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: %s", ErrDuplicateName, name)
			}

			role := &Role{
				ID:            roleID,
				TenantID:      session.TenantID,
				Name:          name,
				Description:   info.Description,
				Validity:      true,
				CreatorUserID: session.UserID,
				CreateTime:    time.Now(),
			}
			if err := tx.CreateRole(ctx, role); err != nil {
				return err
			}

			result, err = s.applyPermissions(ctx, tx, s.engine.seedTx, session.Scope(), roleID, session.UserID, info)
			return err
		})
	}

	s.record(ctx, session, mutation{
		op:           "create",
		eventType:    audit.EventTypeAuthzRoleCreate,
		resourceType: audit.ResourceTypeRole,
		roleID:       roleID,
		resourceName: info.Name,
		reason:       ReasonCreated,
		result:       result,
	}, err)
	if err != nil {
		recordSpanError(span, err)
		return uuid.Nil, err
	}
	return roleID, nil
}

// Update renames a role and reconciles both permission lists in one transaction,
// then returns the freshly resolved role. Built-in roles keep their name.
func (s *Service) Update(ctx context.Context, session Session, info RoleInfo) (*RoleAggregate, error) {
	ctx, span := s.startSpan(ctx, "Update", session)
	defer span.End()
	span.SetAttributes(attribute.String("role.id", info.ID.String()))

	var result ReconcileResult
	var before *Role
	name, err := validateRoleName(info.Name)
	if err == nil && info.ID == uuid.Nil {
		err = fmt.Errorf("%w: role id is required", ErrInvalidArgument)
	}
	if err == nil {
		err = s.store.RunInTx(ctx, func(tx *Store) error {
			var err error
			before, err = tx.GetRole(ctx, session.TenantID, info.ID)
			if err != nil {
				return err
			}
			if before.BuiltIn && name != before.Name {
				return fmt.Errorf("%w: built-in role %s cannot be renamed", ErrForbidden, before.Name)
			}

			taken, err := tx.RoleNameTaken(ctx, session.TenantID, name, info.ID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: %s", ErrDuplicateName, name)
			}

			if err := tx.UpdateRole(ctx, session.TenantID, info.ID, name, info.Description); err != nil {
				return err
			}

			result, err = s.applyPermissions(ctx, tx, s.engine.ReconcileTx, session.Scope(), info.ID, session.UserID, info)
			return err
		})
	}

	m := mutation{
		op:           "update",
		eventType:    audit.EventTypeAuthzRoleUpdate,
		resourceType: audit.ResourceTypeRole,
		roleID:       info.ID,
		resourceName: info.Name,
		reason:       ReasonUpdated,
		result:       result,
	}
	if before != nil {
		m.changes = &audit.ChangeDetails{
			Before: map[string]interface{}{"name": before.Name, "description": before.Description},
			After:  map[string]interface{}{"name": name, "description": info.Description},
		}
	}
	s.record(ctx, session, m, err)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	return s.aggregate(ctx, s.store, s.resolver, session, info.ID)
}

type reconcileFunc func(ctx context.Context, tx *Store, scope Scope, roleID, creatorUserID uuid.UUID, kind NodeKind, desired []DesiredPermission) (ReconcileResult, error)

// applyPermissions runs fn for actions then data scopes inside the caller's transaction
func (s *Service) applyPermissions(ctx context.Context, tx *Store, fn reconcileFunc, scope Scope, roleID, userID uuid.UUID, info RoleInfo) (ReconcileResult, error) {
	actions, err := fn(ctx, tx, scope, roleID, userID, KindAction, info.Actions)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("actions: %w", err)
	}
	datas, err := fn(ctx, tx, scope, roleID, userID, KindDataScope, info.Datas)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("datas: %w", err)
	}
	return actions.add(datas), nil
}

// Reconcile applies a desired-state list of one kind to an existing role
func (s *Service) Reconcile(ctx context.Context, session Session, roleID uuid.UUID, kind NodeKind, desired []DesiredPermission) (ReconcileResult, error) {
	ctx, span := s.startSpan(ctx, "Reconcile", session)
	defer span.End()
	span.SetAttributes(attribute.String("role.id", roleID.String()))

	var result ReconcileResult
	var role *Role
	err := s.store.RunInTx(ctx, func(tx *Store) error {
		var err error
		role, err = tx.GetRole(ctx, session.TenantID, roleID)
		if err != nil {
			return err
		}
		result, err = s.engine.ReconcileTx(ctx, tx, session.Scope(), roleID, session.UserID, kind, desired)
		return err
	})

	m := mutation{
		op:           "reconcile",
		eventType:    audit.EventTypeAuthzRoleUpdate,
		resourceType: audit.ResourceTypeRole,
		roleID:       roleID,
		reason:       ReasonUpdated,
		result:       result,
		metadata:     map[string]interface{}{"kind": string(kind)},
	}
	if role != nil {
		m.resourceName = role.Name
	}
	if err == nil && !result.Changed() {
		m.reason = ""
	}
	s.record(ctx, session, m, err)
	if err != nil {
		recordSpanError(span, err)
		return ReconcileResult{}, err
	}
	return result, nil
}

// Delete removes a role with its overrides and members.
// Built-in and missing roles both return ErrNotFound.
func (s *Service) Delete(ctx context.Context, session Session, roleID uuid.UUID) error {
	ctx, span := s.startSpan(ctx, "Delete", session)
	defer span.End()
	span.SetAttributes(attribute.String("role.id", roleID.String()))

	err := s.store.DeleteRole(ctx, session.TenantID, roleID)

	s.record(ctx, session, mutation{
		op:           "delete",
		eventType:    audit.EventTypeAuthzRoleDelete,
		resourceType: audit.ResourceTypeRole,
		roleID:       roleID,
		reason:       ReasonDeleted,
	}, err)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

// List returns one page of the tenant's active roles ordered by serial.
// rows and page start at 1; Total ignores paging.
func (s *Service) List(ctx context.Context, session Session, rows, page int) (Page[Role], error) {
	if err := validatePaging(rows, page); err != nil {
		return Page[Role]{}, err
	}

	var out Page[Role]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Total, err = s.reads.CountRoles(gctx, session.TenantID)
		return err
	})
	g.Go(func() (err error) {
		out.Items, err = s.reads.ListRoles(gctx, session.TenantID, rows, rows*(page-1))
		return err
	})
	if err := g.Wait(); err != nil {
		return Page[Role]{}, err
	}
	return out, nil
}

// Get returns a role with its members and effective permissions
func (s *Service) Get(ctx context.Context, session Session, roleID uuid.UUID) (*RoleAggregate, error) {
	ctx, span := s.startSpan(ctx, "Get", session)
	defer span.End()

	agg, err := s.aggregate(ctx, s.reads, s.readResolver, session, roleID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return agg, nil
}

// Resolve returns the effective permission trees of a role
func (s *Service) Resolve(ctx context.Context, session Session, roleID uuid.UUID) (*EffectiveTree, error) {
	if _, err := s.reads.GetRole(ctx, session.TenantID, roleID); err != nil {
		return nil, err
	}
	return s.readResolver.Resolve(ctx, session.Scope(), roleID)
}

// aggregate loads a role, then its members and permission trees concurrently
func (s *Service) aggregate(ctx context.Context, store *Store, resolver *Resolver, session Session, roleID uuid.UUID) (*RoleAggregate, error) {
	role, err := store.GetRole(ctx, session.TenantID, roleID)
	if err != nil {
		return nil, err
	}

	agg := &RoleAggregate{Role: *role}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		agg.Members, err = store.ListMembers(gctx, roleID)
		return err
	})
	g.Go(func() error {
		tree, err := resolver.Resolve(gctx, session.Scope(), roleID)
		if err != nil {
			return err
		}
		agg.Actions = tree.Actions
		agg.Datas = tree.Datas
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agg, nil
}

// AddMembers binds principals to a role and returns how many were newly bound
func (s *Service) AddMembers(ctx context.Context, session Session, roleID uuid.UUID, members []RoleMember) (int, error) {
	ctx, span := s.startSpan(ctx, "AddMembers", session)
	defer span.End()
	span.SetAttributes(attribute.String("role.id", roleID.String()))

	var inserted int
	var role *Role
	var err error
	if len(members) == 0 {
		err = fmt.Errorf("%w: no members given", ErrInvalidArgument)
	} else {
		err = s.store.RunInTx(ctx, func(tx *Store) error {
			var err error
			role, err = tx.GetRole(ctx, session.TenantID, roleID)
			if err != nil {
				return err
			}

			now := time.Now()
			for i := range members {
				members[i].CreatorUserID = session.UserID
				members[i].CreateTime = now
			}
			inserted, err = tx.AddMembers(ctx, roleID, members)
			return err
		})
	}

	m := mutation{
		op:           "add_members",
		eventType:    audit.EventTypeAuthzRoleMemberAdd,
		resourceType: audit.ResourceTypeRole,
		roleID:       roleID,
		reason:       ReasonMembersAdded,
		metadata:     map[string]interface{}{"requested": len(members), "inserted": inserted},
	}
	if role != nil {
		m.resourceName = role.Name
	}
	if inserted == 0 {
		m.reason = ""
	}
	s.record(ctx, session, m, err)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	return inserted, nil
}

// RemoveMember deletes one member record and returns the refreshed role
func (s *Service) RemoveMember(ctx context.Context, session Session, memberRecordID uuid.UUID) (*RoleAggregate, error) {
	ctx, span := s.startSpan(ctx, "RemoveMember", session)
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberRecordID.String()))

	roleID, err := s.store.DeleteMember(ctx, session.TenantID, memberRecordID)

	s.record(ctx, session, mutation{
		op:           "remove_member",
		eventType:    audit.EventTypeAuthzRoleMemberRemove,
		resourceType: audit.ResourceTypeRoleMember,
		resourceID:   memberRecordID.String(),
		roleID:       roleID,
		reason:       ReasonMemberRemoved,
	}, err)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	return s.aggregate(ctx, s.store, s.resolver, session, roleID)
}

// Members returns every member record of a role
func (s *Service) Members(ctx context.Context, session Session, roleID uuid.UUID) ([]RoleMember, error) {
	if _, err := s.reads.GetRole(ctx, session.TenantID, roleID); err != nil {
		return nil, err
	}
	return s.reads.ListMembers(ctx, roleID)
}

// MemberUsers returns one page of the users bound directly to a role, ordered by login name
func (s *Service) MemberUsers(ctx context.Context, session Session, roleID uuid.UUID, rows, page int) (Page[RoleMemberUser], error) {
	if err := validatePaging(rows, page); err != nil {
		return Page[RoleMemberUser]{}, err
	}
	if _, err := s.reads.GetRole(ctx, session.TenantID, roleID); err != nil {
		return Page[RoleMemberUser]{}, err
	}

	var out Page[RoleMemberUser]
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Total, err = s.reads.CountMemberUsers(gctx, session.TenantID, roleID)
		return err
	})
	g.Go(func() (err error) {
		out.Items, err = s.reads.ListMemberUsers(gctx, session.TenantID, roleID, rows, rows*(page-1))
		return err
	})
	if err := g.Wait(); err != nil {
		return Page[RoleMemberUser]{}, err
	}
	return out, nil
}

// Candidates lists principals of memberType not yet bound to a role
func (s *Service) Candidates(ctx context.Context, session Session, roleID uuid.UUID, memberType MemberType) ([]Candidate, error) {
	if !memberType.Valid() {
		return nil, fmt.Errorf("%w: unknown member type %d", ErrInvalidArgument, memberType)
	}
	if _, err := s.reads.GetRole(ctx, session.TenantID, roleID); err != nil {
		return nil, err
	}
	return s.reads.ListCandidates(ctx, session.TenantID, roleID, memberType)
}

// mutation describes a write for audit, notification and metrics
type mutation struct {
	op           string
	eventType    audit.EventType
	resourceType audit.ResourceType
	resourceID   string
	resourceName string
	roleID       uuid.UUID
	reason       string
	result       ReconcileResult
	metadata     map[string]interface{}
	changes      *audit.ChangeDetails
}

// record logs, audits and counts a finished mutation, and publishes it when it committed.
// Audit and publish failures are logged only.
func (s *Service) record(ctx context.Context, session Session, m mutation, err error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"op":      m.op,
		"role_id": m.roleID.String(),
	})

	result := "success"
	if err != nil {
		result = ErrorCode(err)
	}
	s.metrics.RecordRoleOperation(m.op, result)

	switch {
	case err == nil:
		logger.WithFields(map[string]interface{}{
			"created": m.result.Created,
			"updated": m.result.Updated,
			"deleted": m.result.Deleted,
		}).Info("Role operation completed")
	case errors.Is(err, ErrPersistence), result == CodeInternal:
		logger.WithError(err).Error("Role operation failed")
	default:
		logger.WithError(err).Warn("Role operation rejected")
	}

	event := audit.NewEvent(ctx, m.eventType, audit.StatusFor(err))
	event.TenantID = session.TenantID.String()
	event.UserID = session.UserID.String()
	event.ResourceType = m.resourceType
	event.ResourceID = m.resourceID
	if event.ResourceID == "" && m.roleID != uuid.Nil {
		event.ResourceID = m.roleID.String()
	}
	event.ResourceName = m.resourceName
	event.Changes = m.changes
	for k, v := range m.metadata {
		event.Metadata[k] = v
	}
	if m.roleID != uuid.Nil {
		event.Metadata["role_id"] = m.roleID.String()
	}
	if m.result.Changed() {
		event.Metadata["overrides_created"] = m.result.Created
		event.Metadata["overrides_updated"] = m.result.Updated
		event.Metadata["overrides_deleted"] = m.result.Deleted
	}
	if err != nil {
		event.ErrorMessage = err.Error()
		event.Message = fmt.Sprintf("role %s failed", m.op)
	} else {
		event.Message = fmt.Sprintf("role %s succeeded", m.op)
	}
	if auditErr := s.audit.Log(ctx, event); auditErr != nil {
		logger.WithError(auditErr).Error("Failed to write audit event")
	}

	if err != nil || m.reason == "" {
		return
	}
	pubErr := s.notifier.Publish(ctx, RoleChanged{
		TenantID:  session.TenantID,
		RoleID:    m.roleID,
		Reason:    m.reason,
		ChangedBy: session.UserID,
		Timestamp: time.Now(),
	})
	s.metrics.RecordNotification(pubErr)
	if pubErr != nil {
		logger.WithError(pubErr).Warn("Failed to publish role change")
	}
}

func (s *Service) startSpan(ctx context.Context, op string, session Session) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rbac.Service."+op)
	span.SetAttributes(
		attribute.String("tenant.id", session.TenantID.String()),
		attribute.String("user.id", session.UserID.String()),
	)
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, ErrorCode(err))
}

func validateRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: role name is required", ErrInvalidArgument)
	}
	if len(name) > maxRoleNameLength {
		return "", fmt.Errorf("%w: role name exceeds %d characters", ErrInvalidArgument, maxRoleNameLength)
	}
	return name, nil
}

func validatePaging(rows, page int) error {
	if rows < 1 || page < 1 {
		return fmt.Errorf("%w: rows and page must be at least 1", ErrInvalidArgument)
	}
	return nil
}

// compile-time check that the service satisfies the handler surface
var _ RoleService = (*Service)(nil)
