package models

import "time"

type Project struct {
	ID     int64
	UserID string
	Name   string
}

// DailyUsage is one usage_daily row joined with its user and project, as
// written to daily exports.
type DailyUsage struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"username"`
	Project  string    `json:"project"`
	Date     time.Time `json:"-"`
	Minutes  int       `json:"minutes"`
}
