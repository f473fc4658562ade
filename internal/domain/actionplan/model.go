package actionplan

import (
	"time"

	"github.com/google/uuid"
)

// Plan statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var Statuses = []string{StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled}

// transitions lists the statuses reachable from each status. Completed and
// cancelled plans are terminal.
var transitions = map[string][]string{
	StatusOpen:       {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusOpen},
}

// CanTransition reports whether a plan may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

type Plan struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Title       string     `db:"title" json:"title"`
	Area        string     `db:"area" json:"area"`
	Issue       string     `db:"issue" json:"issue"`
	Action      string     `db:"action" json:"action"`
	Owner       string     `db:"owner" json:"owner"`
	DueDate     string     `db:"due_date" json:"due_date"`
	Status      string     `db:"status" json:"status"`
	AuditID     *uuid.UUID `db:"audit_id" json:"audit_id,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedBy   string     `db:"created_by" json:"created_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Overdue reports whether the plan is still active past its due date.
func (p *Plan) Overdue(today string) bool {
	return !IsTerminal(p.Status) && p.DueDate < today
}
