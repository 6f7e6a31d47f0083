package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/platinummonkey/warden/pkg/rbac"

// Resolver merges catalog defaults with a role's stored overrides.
// It holds no state between calls and is safe for concurrent use.
type Resolver struct {
	catalog Catalog
	store   *Store
}

// NewResolver creates a resolver reading overrides from store
func NewResolver(catalog Catalog, store *Store) *Resolver {
	return &Resolver{catalog: catalog, store: store}
}

// Resolve returns the effective action and data-scope trees of a role
func (r *Resolver) Resolve(ctx context.Context, scope Scope, roleID uuid.UUID) (*EffectiveTree, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rbac.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("role.id", roleID.String()))

	var (
		actionNodes, dataNodes []PermissionNode
		actionRecs, dataRecs   []OverrideRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		actionNodes, err = r.catalog.Nodes(gctx, scope, KindAction)
		return err
	})
	g.Go(func() (err error) {
		dataNodes, err = r.catalog.Nodes(gctx, scope, KindDataScope)
		return err
	})
	g.Go(func() (err error) {
		actionRecs, err = r.store.ListOverrides(gctx, roleID, KindAction)
		return err
	})
	g.Go(func() (err error) {
		dataRecs, err = r.store.ListOverrides(gctx, roleID, KindDataScope)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, fmt.Errorf("failed to resolve role %s: %w", roleID, err)
	}

	actions, err := merge(actionNodes, actionRecs)
	if err != nil {
		return nil, fmt.Errorf("failed to build action tree: %w", err)
	}
	datas, err := merge(dataNodes, dataRecs)
	if err != nil {
		return nil, fmt.Errorf("failed to build data tree: %w", err)
	}

	span.SetAttributes(
		attribute.Int("rbac.actions", len(actions)),
		attribute.Int("rbac.datas", len(datas)),
		attribute.Int("rbac.overrides", len(actionRecs)+len(dataRecs)),
	)
	return &EffectiveTree{Actions: actions, Datas: datas}, nil
}

// merge walks the catalog tree and attaches defaults and overrides to leaves.
// Category nodes are kept for shape but never carry a value.
func merge(nodes []PermissionNode, records []OverrideRecord) ([]EffectivePermission, error) {
	tree, err := NewTree(nodes)
	if err != nil {
		return nil, err
	}

	byKey := make(map[OverrideKey]bool, len(records))
	for _, rec := range records {
		byKey[rec.Key] = rec.Value
	}

	walked := tree.Walk()
	out := make([]EffectivePermission, 0, len(walked))
	for _, n := range walked {
		p := EffectivePermission{
			NodeID:   n.ID,
			ParentID: n.ParentID,
			NodeType: n.NodeType,
			Kind:     n.Kind,
			Name:     n.Name,
			Index:    n.Index,
			ModuleID: n.ModuleID,
			Mode:     n.Mode,
			ModeID:   n.ModeID,
		}
		if n.IsLeaf() {
			p.Default = n.Default
			if v, ok := byKey[n.Key()]; ok {
				p.Override = Bool(v)
			}
		}
		out = append(out, p)
	}
	return out, nil
}
