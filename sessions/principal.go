package sessions

// Principal is an externally owned identity attached to a session. Its
// concrete type is opaque to this package. Optional capabilities are probed
// independently via the interfaces below; a principal supporting none of
// them is still a valid principal.
type Principal any

// PermissionLister is implemented by principals that can enumerate the
// permissions they carry. The returned names share the method/topic
// namespace used by Session.CanAccess.
type PermissionLister interface {
	GetPermissions() []string
}

// PermissionChecker is implemented by principals that can answer point
// queries about a single permission name.
type PermissionChecker interface {
	CheckPermission(name string) bool
}

// Describer is implemented by principals that can produce a serializable
// snapshot of themselves for administrative surfaces.
type Describer interface {
	Describe() map[string]any
}

// principalGrants reports whether p grants the named permission. A nil or
// capability-less principal grants nothing; missing capabilities are not
// errors.
func principalGrants(p Principal, name string) bool {
	if p == nil {
		return false
	}
	if checker, ok := p.(PermissionChecker); ok && checker.CheckPermission(name) {
		return true
	}
	if lister, ok := p.(PermissionLister); ok {
		for _, perm := range lister.GetPermissions() {
			if perm == name {
				return true
			}
		}
	}
	return false
}
