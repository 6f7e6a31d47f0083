package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Default page size for role and member listings
const defaultRows = 20

// RoleService is the service surface the HTTP handlers call
type RoleService interface {
	Create(ctx context.Context, session Session, info RoleInfo) (uuid.UUID, error)
	Update(ctx context.Context, session Session, info RoleInfo) (*RoleAggregate, error)
	Delete(ctx context.Context, session Session, roleID uuid.UUID) error
	List(ctx context.Context, session Session, rows, page int) (Page[Role], error)
	Get(ctx context.Context, session Session, roleID uuid.UUID) (*RoleAggregate, error)
	Resolve(ctx context.Context, session Session, roleID uuid.UUID) (*EffectiveTree, error)
	Reconcile(ctx context.Context, session Session, roleID uuid.UUID, kind NodeKind, desired []DesiredPermission) (ReconcileResult, error)
	AddMembers(ctx context.Context, session Session, roleID uuid.UUID, members []RoleMember) (int, error)
	RemoveMember(ctx context.Context, session Session, memberRecordID uuid.UUID) (*RoleAggregate, error)
	Members(ctx context.Context, session Session, roleID uuid.UUID) ([]RoleMember, error)
	MemberUsers(ctx context.Context, session Session, roleID uuid.UUID, rows, page int) (Page[RoleMemberUser], error)
	Candidates(ctx context.Context, session Session, roleID uuid.UUID, memberType MemberType) ([]Candidate, error)
}

// Handlers provides HTTP handlers for role operations
type Handlers struct {
	service RoleService
}

// NewHandlers creates new role handlers
func NewHandlers(service RoleService) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all role routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Role directory
	router.HandleFunc("/rbac/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/rbac/roles/{id}", h.DeleteRole).Methods("DELETE")

	// Permissions
	router.HandleFunc("/rbac/roles/{id}/permissions", h.ResolvePermissions).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}/permissions/{kind}", h.ReconcilePermissions).Methods("PUT")

	// Membership
	router.HandleFunc("/rbac/roles/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}/members", h.AddMembers).Methods("POST")
	router.HandleFunc("/rbac/roles/{id}/member-users", h.ListMemberUsers).Methods("GET")
	router.HandleFunc("/rbac/roles/{id}/candidates/{type}", h.ListCandidates).Methods("GET")
	router.HandleFunc("/rbac/members/{id}", h.RemoveMember).Methods("DELETE")
}

// SessionFromContext returns the caller session stored by the session middleware
func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(contextkeys.SessionKey).(Session)
	return session, ok
}

// requireSession extracts the caller session or writes 401
func requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	s, ok := SessionFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "missing session")
		return Session{}, false
	}
	return s, true
}

// errorStatus maps a service error to its HTTP status
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a coded error body. Server-side failures hide the cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
		message = "internal error"
	}
	httputil.WriteCodedError(w, status, ErrorCode(err), message)
}

// CreateRole creates a role with its initial permissions
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req RoleInfo
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	id, err := h.service.Create(r.Context(), s, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, map[string]string{"id": id.String()})
}

// ListRoles lists the tenant's roles, paged with rows and page
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}

	rows, ok := httputil.ParseQueryIntOrError(w, r, "rows", defaultRows)
	if !ok {
		return
	}
	page, ok := httputil.ParseQueryIntOrError(w, r, "page", 1)
	if !ok {
		return
	}

	result, err := h.service.List(r.Context(), s, rows, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// GetRole returns a role with members and effective permissions
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	agg, err := h.service.Get(r.Context(), s, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, agg)
}

// UpdateRole renames a role and reconciles its permissions
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req RoleInfo
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ID != uuid.Nil && req.ID != id {
		httputil.WriteBadRequest(w, "body id does not match path")
		return
	}
	req.ID = id

	agg, err := h.service.Update(r.Context(), s, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, agg)
}

// DeleteRole deletes a role
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), s, id); err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ResolvePermissions returns the effective permission trees of a role
func (h *Handlers) ResolvePermissions(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	tree, err := h.service.Resolve(r.Context(), s, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, tree)
}

// ReconcilePermissions applies a desired-state list for the action or data kind
func (h *Handlers) ReconcilePermissions(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	kind := NodeKind(mux.Vars(r)["kind"])
	if !kind.valid() {
		httputil.WriteBadRequest(w, "kind must be action or data")
		return
	}

	var desired []DesiredPermission
	if !httputil.ParseJSONOrError(w, r, &desired) {
		return
	}

	result, err := h.service.Reconcile(r.Context(), s, id, kind, desired)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// ListMembers lists all member records of a role
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	members, err := h.service.Members(r.Context(), s, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, members)
}

type addMembersRequest struct {
	Members []struct {
		MemberID uuid.UUID `json:"member_id"`
		Type     string    `json:"type"`
	} `json:"members"`
}

// AddMembers binds users, groups or organizations to a role
func (h *Handlers) AddMembers(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	var req addMembersRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	members := make([]RoleMember, 0, len(req.Members))
	for _, m := range req.Members {
		memberType, ok := ParseMemberType(m.Type)
		if !ok {
			httputil.WriteBadRequest(w, "unknown member type: "+m.Type)
			return
		}
		if m.MemberID == uuid.Nil {
			httputil.WriteBadRequest(w, "member_id is required")
			return
		}
		members = append(members, RoleMember{MemberID: m.MemberID, Type: memberType})
	}

	inserted, err := h.service.AddMembers(r.Context(), s, id, members)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]int{"inserted": inserted})
}

// RemoveMember deletes one member record and returns the refreshed role
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	agg, err := h.service.RemoveMember(r.Context(), s, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, agg)
}

// ListMemberUsers lists the users bound directly to a role
func (h *Handlers) ListMemberUsers(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	rows, ok := httputil.ParseQueryIntOrError(w, r, "rows", defaultRows)
	if !ok {
		return
	}
	page, ok := httputil.ParseQueryIntOrError(w, r, "page", 1)
	if !ok {
		return
	}

	result, err := h.service.MemberUsers(r.Context(), s, id, rows, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// ListCandidates lists principals of a type that are not yet members
func (h *Handlers) ListCandidates(w http.ResponseWriter, r *http.Request) {
	s, ok := requireSession(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}

	memberType, ok := ParseMemberType(mux.Vars(r)["type"])
	if !ok {
		httputil.WriteBadRequest(w, "type must be user, group or organization")
		return
	}

	candidates, err := h.service.Candidates(r.Context(), s, id, memberType)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, candidates)
}
