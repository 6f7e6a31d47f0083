package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Headers set by the upstream authentication gateway
const (
	TenantIDHeader = "X-Tenant-ID"
	AppIDHeader    = "X-App-ID"
	UserIDHeader   = "X-User-ID"
)

// SessionMiddleware builds the caller session from gateway headers
type SessionMiddleware struct {
	// optional lets requests without any session headers through unauthenticated
	optional bool
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(optional bool) *SessionMiddleware {
	return &SessionMiddleware{optional: optional}
}

// Handler wraps an HTTP handler with session extraction
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.optional && !hasSessionHeaders(r) {
			next.ServeHTTP(w, r)
			return
		}

		session, err := ParseSession(r)
		if err != nil {
			observability.FromContext(r.Context()).
				WithField("path", r.URL.Path).
				WithError(err).
				Debug("rejected request without a valid session")
			httputil.WriteUnauthorized(w, err.Error())
			return
		}

		ctx := contextkeys.WithSession(r.Context(), session)
		ctx = contextkeys.WithTenantID(ctx, session.TenantID.String())
		ctx = contextkeys.WithUserID(ctx, session.UserID.String())

		// tenant and user are added by FromContext; the app is not
		logger := observability.GetLogger(ctx).WithField("app_id", session.AppID.String())
		ctx = observability.WithLogger(ctx, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseSession reads and validates the gateway headers
func ParseSession(r *http.Request) (rbac.Session, error) {
	tenantID, err := headerUUID(r, TenantIDHeader)
	if err != nil {
		return rbac.Session{}, err
	}
	appID, err := headerUUID(r, AppIDHeader)
	if err != nil {
		return rbac.Session{}, err
	}
	userID, err := headerUUID(r, UserIDHeader)
	if err != nil {
		return rbac.Session{}, err
	}
	return rbac.Session{TenantID: tenantID, AppID: appID, UserID: userID}, nil
}

func headerUUID(r *http.Request, header string) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing %s header", header)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid %s header", header)
	}
	return id, nil
}

func hasSessionHeaders(r *http.Request) bool {
	return r.Header.Get(TenantIDHeader) != "" ||
		r.Header.Get(AppIDHeader) != "" ||
		r.Header.Get(UserIDHeader) != ""
}

// GetSession retrieves the session stored by SessionMiddleware
func GetSession(r *http.Request) (rbac.Session, bool) {
	return rbac.SessionFromContext(r.Context())
}
