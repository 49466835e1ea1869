package oidckit

import "time"

// Claims is the verified payload of a bearer token. It lives for one request.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time // zero when absent
	NotBefore time.Time // zero when absent
	Raw       map[string]any
}

// SubjectOr returns the sub claim, or def when the token carries none.
func (c *Claims) SubjectOr(def string) string {
	if c == nil || c.Subject == "" {
		return def
	}
	return c.Subject
}
