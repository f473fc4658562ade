package hai

import (
	"time"

	"github.com/google/uuid"
)

// Review statuses.
const (
	StatusPending   = "pending"
	StatusValidated = "validated"
	StatusRejected  = "rejected"
)

// Case is a reported healthcare-associated infection. It only counts toward
// infection rates once an IPC officer has validated it.
type Case struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientName      string     `db:"patient_name" json:"patient_name"`
	HospitalNumber   string     `db:"hospital_number" json:"hospital_number"`
	Age              *int       `db:"age" json:"age,omitempty"`
	Sex              *string    `db:"sex" json:"sex,omitempty"`
	Area             string     `db:"area" json:"area"`
	HAIType          string     `db:"hai_type" json:"hai_type"`
	OnsetDate        string     `db:"onset_date" json:"onset_date"`
	DeviceInsertedAt *string    `db:"device_inserted_at" json:"device_inserted_at,omitempty"`
	Organism         *string    `db:"organism" json:"organism,omitempty"`
	Notes            *string    `db:"notes" json:"notes,omitempty"`
	Status           string     `db:"status" json:"status"`
	ReportedBy       string     `db:"reported_by" json:"reported_by"`
	ReviewedBy       *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote       *string    `db:"review_note" json:"review_note,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Review is the outcome an IPC officer records on a pending case.
type Review struct {
	Status   string
	Reviewer string
	Note     *string
	At       time.Time
}

// DeviceDays returns the days between device insertion and onset, or -1 when
// no insertion date is recorded.
func (c *Case) DeviceDays() int {
	if c.DeviceInsertedAt == nil {
		return -1
	}
	in, err := time.Parse("2006-01-02", *c.DeviceInsertedAt)
	if err != nil {
		return -1
	}
	onset, err := time.Parse("2006-01-02", c.OnsetDate)
	if err != nil {
		return -1
	}
	return int(onset.Sub(in).Hours() / 24)
}
