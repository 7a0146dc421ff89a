// Package status classifies a pane's rendered text tail into a coarse
// session status.
package status

// Status is the coarse state of a tracked session.
type Status string

const (
	Working          Status = "working"
	WaitingForInput  Status = "waiting"
	PermissionNeeded Status = "permission"
	Unknown          Status = "unknown"
)
