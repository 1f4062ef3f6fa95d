package model

import "time"

// NeverExpires is the stored expiry value of a credential that is never swept.
const NeverExpires int64 = -1

// CredentialLifetime is how long an expiring credential survives after save.
const CredentialLifetime = 30 * 24 * time.Hour

// Credential is a username/password pair stored under (Type, Site). A
// credential whose Site equals its Type is the default for that type and
// serves any site without a specific entry.
type Credential struct {
	Type      CredentialType
	Site      string
	Username  string
	Password  Secret
	ExpiresAt int64 // epoch millis, NeverExpires when unset
}

// IsDefault reports whether the credential is the type-wide default.
func (c Credential) IsDefault() bool {
	return string(c.Type) == c.Site
}

// Expired reports whether the credential carries an expiry at or before now.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt > 0 && c.ExpiresAt <= now.UnixMilli()
}

// CredentialIdentity names a stored credential without exposing its secret.
type CredentialIdentity struct {
	Site string
	Type CredentialType
}

// IsDefault reports whether the identity names the type-wide default.
func (id CredentialIdentity) IsDefault() bool {
	return string(id.Type) == id.Site
}

// BasicAuth is a username/password pair supplied for HTTP Basic authentication.
type BasicAuth struct {
	Username string
	Password Secret
}
