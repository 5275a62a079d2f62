// Package authz decides whether a caller may perform an action, given the role
// and permission names loaded for the current request.
package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Permission names seeded for the reporting backend.
const (
	ViewInventory        = "view_inventory"
	UploadInventory      = "upload_inventory"
	ViewSecondarySales   = "view_secondary_sales"
	UploadSecondarySales = "upload_secondary_sales"
	UploadPlatformPO     = "upload_platform_po"
	ViewPlatformPO       = "view_platform_po"
)

// PermissionSet is the set of permission names granted to a caller.
type PermissionSet map[string]struct{}

func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Has reports whether name was granted.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the granted names in sorted order.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Caller is the authenticated principal of one request.
type Caller struct {
	UserID      string
	Role        string
	Permissions PermissionSet
}

// IsAdmin reports whether the caller's role bypasses permission checks.
func (c *Caller) IsAdmin() bool {
	if c == nil {
		return false
	}
	role := strings.TrimSpace(c.Role)
	return strings.EqualFold(role, "admin") || strings.EqualFold(role, "administrator")
}

type mode int

const (
	// the zero Requirement is invalid and denies every caller
	modeInvalid mode = iota
	modeSingle
	modeAnyOf
	modeAllOf
	modeAdmin
)

// Requirement is what an action demands of its caller.
type Requirement struct {
	mode  mode
	names []string
}

// Single requires one named permission.
func Single(name string) Requirement {
	return Requirement{mode: modeSingle, names: []string{name}}
}

// AnyOf requires at least one of names.
func AnyOf(names ...string) Requirement {
	return Requirement{mode: modeAnyOf, names: append([]string(nil), names...)}
}

// AllOf requires every one of names.
func AllOf(names ...string) Requirement {
	return Requirement{mode: modeAllOf, names: append([]string(nil), names...)}
}

// AdminOnly is satisfied only by the admin roles.
func AdminOnly() Requirement {
	return Requirement{mode: modeAdmin}
}

// Names returns the permission names the requirement mentions.
func (r Requirement) Names() []string {
	return append([]string(nil), r.names...)
}

// valid reports whether r was built by one of the constructors with
// non-blank permission names.
func (r Requirement) valid() bool {
	switch r.mode {
	case modeAdmin:
		return true
	case modeSingle, modeAnyOf, modeAllOf:
		if len(r.names) == 0 {
			return false
		}
		for _, n := range r.names {
			if strings.TrimSpace(n) == "" {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (r Requirement) String() string {
	if !r.valid() {
		return "invalid requirement"
	}
	switch r.mode {
	case modeSingle:
		return r.names[0]
	case modeAnyOf:
		return "any of " + strings.Join(r.names, ", ")
	case modeAllOf:
		return "all of " + strings.Join(r.names, ", ")
	default:
		return "admin"
	}
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed         bool
	Unauthenticated bool
	AdminRequired   bool
	Reason          string
	Required        []string
	Missing         []string
}

const (
	reasonAuthRequired  = "authentication required"
	reasonAdminRequired = "admin access required"
	reasonInvalid       = "invalid requirement"
)

// Authorize evaluates req for caller. A nil caller is unauthenticated; admin
// roles are allowed for any valid requirement. A zero or empty Requirement
// denies everyone.
func Authorize(caller *Caller, req Requirement) Decision {
	if caller == nil {
		return Decision{Unauthenticated: true, Reason: reasonAuthRequired}
	}
	if !req.valid() {
		return Decision{Reason: reasonInvalid}
	}
	if caller.IsAdmin() {
		return Decision{Allowed: true}
	}

	required := req.Names()
	switch req.mode {
	case modeAdmin:
		return Decision{AdminRequired: true, Reason: reasonAdminRequired}
	case modeAnyOf:
		for _, n := range req.names {
			if caller.Permissions.Has(n) {
				return Decision{Allowed: true}
			}
		}
		return Decision{Reason: strings.Join(required, ", "), Required: required, Missing: required}
	default:
		// Single and AllOf both need every listed name
		var missing []string
		for _, n := range req.names {
			if !caller.Permissions.Has(n) {
				missing = append(missing, n)
			}
		}
		if len(missing) == 0 {
			return Decision{Allowed: true}
		}
		return Decision{Reason: strings.Join(missing, ", "), Required: required, Missing: missing}
	}
}

// Err converts a denial into a *DeniedError.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{
		Unauthenticated: d.Unauthenticated,
		AdminRequired:   d.AdminRequired,
		Reason:          d.Reason,
		Required:        d.Required,
		Missing:         d.Missing,
	}
}

// DeniedError is returned when a caller lacks what an action requires.
type DeniedError struct {
	Unauthenticated bool
	AdminRequired   bool
	Reason          string
	Required        []string
	Missing         []string
}

func (e *DeniedError) Error() string {
	if e.Unauthenticated {
		return e.Reason
	}
	return fmt.Sprintf("permission denied: %s", e.Reason)
}
