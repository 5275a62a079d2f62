package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/phuslu/log"
)

// UserIDHeader carries the session user resolved by the upstream gateway.
const UserIDHeader = "X-User-ID"

// Provider resolves a user's role and granted permissions. It is queried once
// per request and never cached.
type Provider interface {
	LookupCaller(ctx context.Context, userID string) (*Caller, error)
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller stored by LoadCaller, or nil.
func CallerFromContext(ctx context.Context) *Caller {
	caller, _ := ctx.Value(callerKey{}).(*Caller)
	return caller
}

// LoadCaller resolves the request's user through provider and stores the
// caller in the request context. Requests without a user id carry no caller.
// A lookup failure is logged and leaves the user with no permissions.
func LoadCaller(provider Provider, logger *log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			caller, err := provider.LookupCaller(r.Context(), userID)
			if err != nil {
				logger.Error().Err(err).Str("user_id", userID).Msg("load user permissions")
				caller = nil
			}
			if caller == nil {
				caller = &Caller{UserID: userID, Permissions: NewPermissionSet()}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

type deniedResponse struct {
	Error    string   `json:"error"`
	Required []string `json:"required,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Require guards next with req, answering 401 for anonymous requests and 403
// for callers that lack the required permissions.
func Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := Authorize(CallerFromContext(r.Context()), req)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			WriteDenied(w, decision)
		})
	}
}

// WriteDenied writes the JSON body for a denied decision.
func WriteDenied(w http.ResponseWriter, d Decision) {
	status := http.StatusForbidden
	body := deniedResponse{
		Error:    "Permission denied",
		Required: d.Required,
		Missing:  d.Missing,
		Message:  "Missing permission: " + d.Reason,
	}
	switch {
	case d.Unauthenticated:
		status = http.StatusUnauthorized
		body = deniedResponse{Error: "Authentication required"}
	case d.AdminRequired:
		body = deniedResponse{Error: "Admin access required"}
	case len(d.Required) == 0:
		body = deniedResponse{Error: "Permission denied", Message: d.Reason}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
