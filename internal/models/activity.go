package models

import "time"

type ActivityAction string

const (
	ActivityLogin          ActivityAction = "login"
	ActivityLogout         ActivityAction = "logout"
	ActivityLogoutAll      ActivityAction = "logout_all"
	ActivityTokenRefresh   ActivityAction = "token_refresh"
	ActivitySessionEvicted ActivityAction = "session_evicted"
)

// Activity is an audit record of a session lifecycle event.
type Activity struct {
	ID        string
	UserID    string
	SessionID string
	Action    ActivityAction
	IPAddress string
	UserAgent string
	Metadata  map[string]any
	CreatedAt time.Time
}
