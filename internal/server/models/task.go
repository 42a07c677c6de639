package models

import "time"

// Task states touched by this subsystem.
const (
	TaskStateOngoing   = "ongoing"
	TaskStateCompleted = "completed"
)

// Task is the part of the platform's task row this subsystem reads or,
// when gold answers are set, writes.
type Task struct {
	ID        int64
	ProjectID int64
	Info      Info
	// PrivateFields is only populated while a task is being created.
	PrivateFields map[string]any
	// GoldAnswers is either inline answers or the single indirection
	// {GoldAnswerURLKey: url}.
	GoldAnswers map[string]any
	Calibration int
	State       string
	Exported    bool
	Expiration  *time.Time
}

// Project is the read-only project data used to pick keys and policies.
type Project struct {
	ID        int64
	ShortName string
	Info      Info
	OwnersIDs []int64
}

// IsCoOwner reports whether userID is among the project's owners.
func (p *Project) IsCoOwner(userID int64) bool {
	for _, id := range p.OwnersIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// TimeoutSeconds returns info.timeout, or 0 when the project sets none.
func (p *Project) TimeoutSeconds() int {
	n, ok := p.Info.Int("timeout")
	if !ok || n <= 0 {
		return 0
	}
	return int(n)
}

// DuplicateFields returns info.duplicate_task_check.duplicate_fields.
func (p *Project) DuplicateFields() []string {
	cfg, ok := p.Info.Map("duplicate_task_check")
	if !ok {
		return nil
	}
	return cfg.StringSlice("duplicate_fields")
}

// User is the authenticated requester.
type User struct {
	ID       int64
	Email    string
	Admin    bool
	Subadmin bool
}
