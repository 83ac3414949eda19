package models

// Viewer is the identity the chat core acts on behalf of
type Viewer struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Role     Role   `json:"role"`

	// Token is the bearer credential attached to every connection attempt
	Token string `json:"-"`
}

// DisplayName returns the full name if set, otherwise the username
func (v *Viewer) DisplayName() string {
	if v == nil {
		return ""
	}
	if v.FullName != "" {
		return v.FullName
	}
	return v.Username
}

// IsStaff reports whether the viewer signs in to the staff console
func (v *Viewer) IsStaff() bool {
	return v != nil && v.Role.IsStaff()
}

// HasCredential reports whether a bearer credential is available
func (v *Viewer) HasCredential() bool {
	return v != nil && v.Token != ""
}

// SameIdentity reports whether two viewers represent the same session
func (v *Viewer) SameIdentity(other *Viewer) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.ID == other.ID && v.Token == other.Token
}
