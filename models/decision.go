package models

// DenyReason explains why an access check was denied
type DenyReason string

const (
	ReasonNone                  DenyReason = ""
	ReasonUserInactiveOrUnknown DenyReason = "user_inactive_or_unknown"
	ReasonRoleUnresolvable      DenyReason = "role_unresolvable"
	ReasonNoGrantForResource    DenyReason = "no_grant_for_resource"
	ReasonPermissionNotGranted  DenyReason = "permission_not_granted"
)

// Decision is the outcome of an access check
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

// Allow returns an allowing decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with the given reason
func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Outcome returns "allow" or "deny"
func (d Decision) Outcome() string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}
