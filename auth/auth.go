// Package auth provides principal implementations for the sessions package:
// a static fixed-permission principal, a JWT-verified principal, and a
// file-backed grants table with hot reload. Applications attach a principal
// to a session with Session.SetPrincipal; the session layer probes each
// capability independently.
package auth

import "sort"

// Static is a fixed-permission principal. It supports all three optional
// capabilities, which makes it convenient for tests and for servers whose
// users come from configuration.
type Static struct {
	Subject     string
	Permissions []string
}

// GetPermissions implements sessions.PermissionLister.
func (p *Static) GetPermissions() []string {
	out := append([]string(nil), p.Permissions...)
	sort.Strings(out)
	return out
}

// CheckPermission implements sessions.PermissionChecker with exact
// matching, mirroring the session authorization predicate.
func (p *Static) CheckPermission(name string) bool {
	for _, perm := range p.Permissions {
		if perm == name {
			return true
		}
	}
	return false
}

// Describe implements sessions.Describer.
func (p *Static) Describe() map[string]any {
	return map[string]any{
		"subject":     p.Subject,
		"permissions": p.GetPermissions(),
	}
}
