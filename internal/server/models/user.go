// Package models defines server-side records persisted in the database.
package models

import "time"

type User struct {
	ID        string
	UserName  string
	CreatedAt time.Time
}
