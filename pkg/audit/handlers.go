package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// maxSearchLimit caps the page size of a search request
const maxSearchLimit = 500

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{
		store: store,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
}

// listEvents handles GET /audit/events. Results are always limited to the caller's tenant.
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := contextkeys.GetTenantID(r.Context())
	if tenantID == "" {
		httputil.WriteUnauthorized(w, "missing tenant")
		return
	}

	filter := h.parseFilter(r)
	filter.TenantID = tenantID

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// parseFilter parses search filter from query parameters
func (h *Handlers) parseFilter(r *http.Request) SearchFilter {
	query := r.URL.Query()
	filter := SearchFilter{}

	if startStr := query.Get("start_time"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &t
		}
	}

	if endStr := query.Get("end_time"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &t
		}
	}

	filter.UserID = query.Get("user_id")

	for _, et := range parseCommaSeparated(query.Get("event_types")) {
		filter.EventTypes = append(filter.EventTypes, EventType(et))
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := EventStatus(statusStr)
		filter.Status = &status
	}

	filter.ResourceType = ResourceType(query.Get("resource_type"))
	filter.ResourceID = query.Get("resource_id")

	filter.Limit = 100
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if filter.Limit > maxSearchLimit {
		filter.Limit = maxSearchLimit
	}

	if offset, err := strconv.Atoi(query.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}

	return filter
}

// parseCommaSeparated parses a comma-separated string into a slice
func parseCommaSeparated(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			result = append(result, v)
		}
	}
	return result
}
