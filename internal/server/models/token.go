package models

import "time"

// Token is a stored credential. Only the digest of the bearer secret is
// kept; RevokedAt is set instead of deleting the row.
type Token struct {
	ID        string     `json:"id"`
	UserID    string     `json:"-"`
	Digest    string     `json:"-"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

func (t *Token) Revoked() bool {
	return t.RevokedAt != nil
}
