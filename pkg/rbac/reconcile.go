package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/warden/pkg/observability"
)

// DecisionOp is the persistence action chosen for one desired entry
type DecisionOp string

const (
	OpCreate DecisionOp = "create"
	OpUpdate DecisionOp = "update"
	OpDelete DecisionOp = "delete"
)

// Decision is one buffered override write
type Decision struct {
	Op       DecisionOp
	Key      OverrideKey
	Value    bool
	Existing *OverrideRecord
}

// ReconcileResult counts the decisions applied by one reconcile call
type ReconcileResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
}

// Changed reports whether any override was written
func (r ReconcileResult) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

func (r ReconcileResult) add(o ReconcileResult) ReconcileResult {
	return ReconcileResult{
		Created: r.Created + o.Created,
		Updated: r.Updated + o.Updated,
		Deleted: r.Deleted + o.Deleted,
		Skipped: r.Skipped + o.Skipped,
	}
}

// overrideFinder looks up the stored override of a role for a node
type overrideFinder interface {
	FindOverride(ctx context.Context, roleID uuid.UUID, key OverrideKey) (*OverrideRecord, error)
}

// noOverrides is the finder of a role that does not exist yet
type noOverrides struct{}

func (noOverrides) FindOverride(_ context.Context, roleID uuid.UUID, key OverrideKey) (*OverrideRecord, error) {
	return nil, fmt.Errorf("%w: override %s of role %s", ErrNotFound, key, roleID)
}

// Plan decides the override writes for a desired-state list without writing anything.
//
// Entries for category nodes and entries whose desired value equals the value the
// client was shown are skipped. For the rest:
//   - no stored override, no inherited default, a value desired: create
//   - no stored override otherwise: ErrStateConflict
//   - stored override and a value desired: update
//   - stored override and no value desired: delete
//
// The first conflict aborts planning and no decisions are returned.
func Plan(ctx context.Context, finder overrideFinder, roleID uuid.UUID, kind NodeKind, desired []DesiredPermission) ([]Decision, int, error) {
	if !kind.valid() {
		return nil, 0, fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, kind)
	}

	var decisions []Decision
	skipped := 0
	planned := make(map[OverrideKey]bool)

	for i, entry := range desired {
		if entry.NodeType < LeafNodeType || sameValue(entry.Desired, entry.Prior) {
			skipped++
			continue
		}

		if kind == KindDataScope && entry.ModuleID == uuid.Nil {
			return nil, 0, fmt.Errorf("%w: data entry %d (%s) has no module", ErrInvalidArgument, i, entry.NodeID)
		}

		key := entry.key(kind)
		if planned[key] {
			return nil, 0, fmt.Errorf("%w: entry %d repeats node %s", ErrStateConflict, i, key)
		}
		planned[key] = true

		existing, err := finder.FindOverride(ctx, roleID, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, 0, err
		}

		switch {
		case existing == nil && entry.Default == nil && entry.Desired != nil:
			decisions = append(decisions, Decision{Op: OpCreate, Key: key, Value: *entry.Desired})
		case existing == nil:
			return nil, 0, fmt.Errorf("%w: entry %d (%s) has no override to change but was shown %s with default %s",
				ErrStateConflict, i, key, formatValue(entry.Prior), formatValue(entry.Default))
		case entry.Desired != nil:
			decisions = append(decisions, Decision{Op: OpUpdate, Key: key, Value: *entry.Desired, Existing: existing})
		default:
			decisions = append(decisions, Decision{Op: OpDelete, Key: key, Existing: existing})
		}
	}

	return decisions, skipped, nil
}

func formatValue(v *bool) string {
	if v == nil {
		return "none"
	}
	if *v {
		return "true"
	}
	return "false"
}

// bindCatalog replaces the node facts a client echoed back with the catalog's own.
// Unknown nodes are rejected. A leaf whose echoed default differs from the catalog
// default was shown a stale view and conflicts.
func bindCatalog(tree *Tree, kind NodeKind, desired []DesiredPermission) ([]DesiredPermission, error) {
	bound := make([]DesiredPermission, len(desired))
	for i, entry := range desired {
		node, ok := tree.Node(entry.NodeID)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d references unknown %s node %s", ErrInvalidArgument, i, kind, entry.NodeID)
		}

		if node.IsLeaf() && !sameValue(entry.Default, node.Default) {
			return nil, fmt.Errorf("%w: entry %d (%s) was shown default %s but the catalog default is %s",
				ErrStateConflict, i, tree.path(node.ID), formatValue(entry.Default), formatValue(node.Default))
		}

		entry.NodeType = node.NodeType
		entry.Default = node.Default
		if kind == KindDataScope {
			entry.ModuleID = node.ModuleID
			entry.Mode = node.Mode
			entry.ModeID = node.ModeID
		}
		bound[i] = entry
	}
	return bound, nil
}

// Engine turns desired-state submissions into override writes
type Engine struct {
	store   *Store
	catalog Catalog
	metrics *observability.Metrics
}

// NewEngine creates a reconciliation engine that checks submissions against catalog.
// metrics may be nil.
func NewEngine(store *Store, catalog Catalog, metrics *observability.Metrics) *Engine {
	return &Engine{store: store, catalog: catalog, metrics: metrics}
}

// Reconcile applies a desired-state list for one catalog kind in its own transaction
func (e *Engine) Reconcile(ctx context.Context, scope Scope, roleID, creatorUserID uuid.UUID, kind NodeKind, desired []DesiredPermission) (ReconcileResult, error) {
	var result ReconcileResult
	err := e.store.RunInTx(ctx, func(tx *Store) error {
		var err error
		result, err = e.ReconcileTx(ctx, tx, scope, roleID, creatorUserID, kind, desired)
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return result, nil
}

// ReconcileTx plans and applies decisions using tx, which must be transaction-bound.
// Nothing is written until every entry has been decided.
func (e *Engine) ReconcileTx(ctx context.Context, tx *Store, scope Scope, roleID, creatorUserID uuid.UUID, kind NodeKind, desired []DesiredPermission) (ReconcileResult, error) {
	return e.reconcile(ctx, tx, tx, scope, roleID, creatorUserID, kind, desired)
}

// seedTx applies only the create branch, for roles that have no overrides yet
func (e *Engine) seedTx(ctx context.Context, tx *Store, scope Scope, roleID, creatorUserID uuid.UUID, kind NodeKind, desired []DesiredPermission) (ReconcileResult, error) {
	return e.reconcile(ctx, tx, noOverrides{}, scope, roleID, creatorUserID, kind, desired)
}

func (e *Engine) reconcile(ctx context.Context, tx *Store, finder overrideFinder, scope Scope, roleID, creatorUserID uuid.UUID, kind NodeKind, desired []DesiredPermission) (ReconcileResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rbac.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("role.id", roleID.String()),
		attribute.String("rbac.kind", string(kind)),
		attribute.Int("rbac.entries", len(desired)),
	)

	start := time.Now()
	defer func() {
		e.metrics.ObserveReconcile(string(kind), time.Since(start))
	}()

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"role_id": roleID.String(),
		"kind":    string(kind),
	})

	fail := func(err error, status string) (ReconcileResult, error) {
		if errors.Is(err, ErrStateConflict) {
			e.metrics.RecordReconcileConflict(string(kind))
			logger.WithError(err).Warn("Reconcile aborted on state conflict")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return ReconcileResult{}, err
	}

	if !kind.valid() {
		return fail(fmt.Errorf("%w: unknown node kind %q", ErrInvalidArgument, kind), "plan failed")
	}
	if len(desired) == 0 {
		return ReconcileResult{}, nil
	}

	nodes, err := e.catalog.Nodes(ctx, scope, kind)
	if err != nil {
		return fail(err, "catalog failed")
	}
	tree, err := NewTree(nodes)
	if err != nil {
		return fail(err, "catalog failed")
	}
	desired, err = bindCatalog(tree, kind, desired)
	if err != nil {
		return fail(err, "bind failed")
	}

	decisions, skipped, err := Plan(ctx, finder, roleID, kind, desired)
	if err != nil {
		return fail(err, "plan failed")
	}

	result := ReconcileResult{Skipped: skipped}
	now := time.Now()
	for _, d := range decisions {
		switch d.Op {
		case OpCreate:
			err = tx.InsertOverride(ctx, &OverrideRecord{
				RoleID:        roleID,
				Key:           d.Key,
				Value:         d.Value,
				CreatorUserID: creatorUserID,
				CreateTime:    now,
			})
			result.Created++
		case OpUpdate:
			err = tx.UpdateOverride(ctx, kind, d.Existing.ID, d.Value)
			result.Updated++
		case OpDelete:
			err = tx.DeleteOverride(ctx, kind, d.Existing.ID)
			result.Deleted++
		}
		if err != nil {
			logger.WithError(err).Errorf("Failed to %s override %s", d.Op, d.Key)
			return fail(err, "apply failed")
		}
	}

	for _, d := range decisions {
		e.metrics.RecordReconcileDecision(string(kind), string(d.Op))
	}

	span.SetAttributes(
		attribute.Int("rbac.created", result.Created),
		attribute.Int("rbac.updated", result.Updated),
		attribute.Int("rbac.deleted", result.Deleted),
	)
	logger.Debugf("Reconciled %d created, %d updated, %d deleted, %d skipped",
		result.Created, result.Updated, result.Deleted, result.Skipped)
	return result, nil
}
