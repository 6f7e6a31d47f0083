package rbac

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NodeKind distinguishes the two permission catalogs
type NodeKind string

const (
	KindAction    NodeKind = "action"
	KindDataScope NodeKind = "data"
)

func (k NodeKind) valid() bool {
	return k == KindAction || k == KindDataScope
}

// LeafNodeType is the smallest node type that can carry a permission.
// Nodes below it are categories (app, module groups) and are structural only.
const LeafNodeType = 2

// Scope identifies the tenant/app snapshot a catalog is read for
type Scope struct {
	TenantID uuid.UUID `json:"tenant_id"`
	AppID    uuid.UUID `json:"app_id"`
}

// Session is the already-authenticated caller of a service operation.
// It is resolved by the transport layer and passed explicitly into every call.
type Session struct {
	TenantID uuid.UUID `json:"tenant_id"`
	AppID    uuid.UUID `json:"app_id"`
	UserID   uuid.UUID `json:"user_id"`
}

// Scope returns the catalog scope of the session
func (s Session) Scope() Scope {
	return Scope{TenantID: s.TenantID, AppID: s.AppID}
}

// PermissionNode is one entry of the permission catalog
type PermissionNode struct {
	ID       uuid.UUID  `json:"id"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	NodeType int        `json:"node_type"`
	Kind     NodeKind   `json:"kind"`
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Alias    string     `json:"alias,omitempty"`

	// DataScope only
	ModuleID uuid.UUID `json:"module_id,omitempty"`
	Mode     int       `json:"mode,omitempty"`
	ModeID   uuid.UUID `json:"mode_id,omitempty"`

	// Default is the inherited permission of a leaf; nil means no default applies
	Default *bool `json:"default"`
}

// IsLeaf reports whether the node is directly assignable
func (n PermissionNode) IsLeaf() bool {
	return n.NodeType >= LeafNodeType
}

// Key returns the identity under which overrides for this node are stored
func (n PermissionNode) Key() OverrideKey {
	if n.Kind == KindDataScope {
		return OverrideKey{Kind: KindDataScope, ModuleID: n.ModuleID, Mode: n.Mode, ModeID: n.ModeID}
	}
	return OverrideKey{Kind: KindAction, ActionID: n.ID}
}

// OverrideKey identifies the node an override applies to.
// Action overrides are keyed by action id, data-scope overrides by module, mode and mode id.
type OverrideKey struct {
	Kind     NodeKind  `json:"kind"`
	ActionID uuid.UUID `json:"action_id,omitempty"`
	ModuleID uuid.UUID `json:"module_id,omitempty"`
	Mode     int       `json:"mode,omitempty"`
	ModeID   uuid.UUID `json:"mode_id,omitempty"`
}

// String returns a stable textual form of the key
func (k OverrideKey) String() string {
	if k.Kind == KindDataScope {
		return "data:" + k.ModuleID.String() + ":" + strconv.Itoa(k.Mode) + ":" + k.ModeID.String()
	}
	return "action:" + k.ActionID.String()
}

// OverrideRecord is a persisted role-specific permission value.
// Its presence is what marks a node as overridden; Value is never absent.
type OverrideRecord struct {
	ID            uuid.UUID   `json:"id"`
	RoleID        uuid.UUID   `json:"role_id"`
	Key           OverrideKey `json:"key"`
	Value         bool        `json:"value"`
	CreatorUserID uuid.UUID   `json:"creator_user_id"`
	CreateTime    time.Time   `json:"create_time"`
}

// EffectivePermission is the merged view of a catalog node for one role
type EffectivePermission struct {
	NodeID   uuid.UUID  `json:"node_id"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	NodeType int        `json:"node_type"`
	Kind     NodeKind   `json:"kind"`
	Name     string     `json:"name"`
	Index    int        `json:"index"`
	ModuleID uuid.UUID  `json:"module_id,omitempty"`
	Mode     int        `json:"mode,omitempty"`
	ModeID   uuid.UUID  `json:"mode_id,omitempty"`

	Default  *bool `json:"default"`
	Override *bool `json:"override"`
}

// Effective returns the override when present, otherwise the inherited default
func (p EffectivePermission) Effective() *bool {
	if p.Override != nil {
		return p.Override
	}
	return p.Default
}

// EffectiveTree holds the resolved permissions of a role, in catalog tree order
type EffectiveTree struct {
	Actions []EffectivePermission `json:"actions"`
	Datas   []EffectivePermission `json:"datas"`
}

// DesiredPermission is one client-submitted entry of a role-edit request.
// Default and Prior echo what the client was shown; Desired is what it wants now.
type DesiredPermission struct {
	NodeID   uuid.UUID `json:"node_id"`
	NodeType int       `json:"node_type"`
	ModuleID uuid.UUID `json:"module_id,omitempty"`
	Mode     int       `json:"mode,omitempty"`
	ModeID   uuid.UUID `json:"mode_id,omitempty"`

	Default *bool `json:"default"`
	Prior   *bool `json:"prior"`
	Desired *bool `json:"desired"`
}

// key returns the override key of the entry for the given catalog kind
func (d DesiredPermission) key(kind NodeKind) OverrideKey {
	return PermissionNode{
		ID:       d.NodeID,
		Kind:     kind,
		ModuleID: d.ModuleID,
		Mode:     d.Mode,
		ModeID:   d.ModeID,
	}.Key()
}

// Desired builds a write entry from a resolved permission, keeping what was shown
func (p EffectivePermission) Desired(value *bool) DesiredPermission {
	return DesiredPermission{
		NodeID:   p.NodeID,
		NodeType: p.NodeType,
		ModuleID: p.ModuleID,
		Mode:     p.Mode,
		ModeID:   p.ModeID,
		Default:  p.Default,
		Prior:    p.Effective(),
		Desired:  value,
	}
}

// Role is a named permission set within a tenant
type Role struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	BuiltIn       bool      `json:"built_in"`
	Validity      bool      `json:"validity"`
	Serial        int64     `json:"serial"`
	CreatorUserID uuid.UUID `json:"creator_user_id"`
	CreateTime    time.Time `json:"create_time"`
}

// RoleInfo is a role write request: role fields plus the desired permission lists
type RoleInfo struct {
	ID          uuid.UUID           `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Actions     []DesiredPermission `json:"actions"`
	Datas       []DesiredPermission `json:"datas"`
}

// MemberType is the kind of principal a role member references
type MemberType int

const (
	MemberUser         MemberType = 1
	MemberGroup        MemberType = 2
	MemberOrganization MemberType = 3
)

// String returns the wire name of the member type
func (t MemberType) String() string {
	switch t {
	case MemberUser:
		return "user"
	case MemberGroup:
		return "group"
	case MemberOrganization:
		return "organization"
	default:
		return "unknown"
	}
}

// Valid reports whether t is a known member type
func (t MemberType) Valid() bool {
	return t >= MemberUser && t <= MemberOrganization
}

// ParseMemberType parses a wire name into a MemberType
func ParseMemberType(s string) (MemberType, bool) {
	switch s {
	case "user":
		return MemberUser, true
	case "group":
		return MemberGroup, true
	case "organization":
		return MemberOrganization, true
	default:
		return 0, false
	}
}

// RoleMember binds a user, group or organization to a role
type RoleMember struct {
	ID            uuid.UUID  `json:"id"`
	RoleID        uuid.UUID  `json:"role_id"`
	MemberID      uuid.UUID  `json:"member_id"`
	Type          MemberType `json:"type"`
	CreatorUserID uuid.UUID  `json:"creator_user_id"`
	CreateTime    time.Time  `json:"create_time"`
}

// RoleAggregate is a role with its members and resolved permissions
type RoleAggregate struct {
	Role
	Members []RoleMember          `json:"members"`
	Actions []EffectivePermission `json:"actions"`
	Datas   []EffectivePermission `json:"datas"`
}

// RoleMemberUser is a user that is a direct member of a role
type RoleMemberUser struct {
	MemberRecordID uuid.UUID `json:"member_record_id"`
	RoleID         uuid.UUID `json:"role_id"`
	UserID         uuid.UUID `json:"user_id"`
	Name           string    `json:"name"`
	LoginName      string    `json:"login_name"`
	Description    string    `json:"description"`
	Validity       bool      `json:"validity"`
}

// Candidate is a principal that is not yet a member of a role
type Candidate struct {
	ID          uuid.UUID  `json:"id"`
	Type        MemberType `json:"type"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	NodeType    int        `json:"node_type,omitempty"`
	Index       int        `json:"index,omitempty"`
	Name        string     `json:"name"`
	LoginName   string     `json:"login_name,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Page is one page of an offset-paginated listing
type Page[T any] struct {
	Total int64 `json:"total"`
	Items []T   `json:"items"`
}

// Bool returns a pointer to v, for building tri-state permission values
func Bool(v bool) *bool {
	return &v
}

// sameValue reports whether two optional permission values are equal
func sameValue(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
