package registry

import (
	"time"

	"github.com/google/uuid"
)

// Review statuses for notifiable reports.
const (
	StatusPending   = "pending"
	StatusValidated = "validated"
	StatusRejected  = "rejected"
)

const DiseaseTuberculosis = "Tuberculosis"

// Diseases is the closed list of notifiable diseases.
var Diseases = []string{
	"Acute Flaccid Paralysis",
	"Chikungunya",
	"Cholera",
	"COVID-19",
	"Dengue",
	"Diphtheria",
	"Hepatitis A",
	"Influenza-like Illness",
	"Leptospirosis",
	"Measles",
	"Meningococcal Disease",
	"Pertussis",
	DiseaseTuberculosis,
	"Typhoid Fever",
	"Other",
}

// TB sites.
const (
	TBSitePulmonary      = "pulmonary"
	TBSiteExtrapulmonary = "extrapulmonary"
)

type NotifiableReport struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientName    string     `db:"patient_name" json:"patient_name"`
	HospitalNumber string     `db:"hospital_number" json:"hospital_number"`
	Age            *int       `db:"age" json:"age,omitempty"`
	Sex            *string    `db:"sex" json:"sex,omitempty"`
	Disease        string     `db:"disease" json:"disease"`
	TBSite         *string    `db:"tb_site" json:"tb_site,omitempty"`
	Area           string     `db:"area" json:"area"`
	OnsetDate      *string    `db:"onset_date" json:"onset_date,omitempty"`
	DateReported   string     `db:"date_reported" json:"date_reported"`
	Status         string     `db:"status" json:"status"`
	ReportedBy     string     `db:"reported_by" json:"reported_by"`
	ReviewedBy     *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNote     *string    `db:"review_note" json:"review_note,omitempty"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Isolation precautions.
const (
	PrecautionContact    = "contact"
	PrecautionDroplet    = "droplet"
	PrecautionAirborne   = "airborne"
	PrecautionProtective = "protective"
)

var Precautions = []string{PrecautionContact, PrecautionDroplet, PrecautionAirborne, PrecautionProtective}

type IsolationAdmission struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientName    string    `db:"patient_name" json:"patient_name"`
	HospitalNumber string    `db:"hospital_number" json:"hospital_number"`
	Area           string    `db:"area" json:"area"`
	Precaution     string    `db:"precaution" json:"precaution"`
	Reason         string    `db:"reason" json:"reason"`
	AdmittedAt     string    `db:"admitted_at" json:"admitted_at"`
	DischargedAt   *string   `db:"discharged_at" json:"discharged_at,omitempty"`
	Notes          *string   `db:"notes" json:"notes,omitempty"`
	RecordedBy     string    `db:"recorded_by" json:"recorded_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type SharpsInjury struct {
	ID          uuid.UUID `db:"id" json:"id"`
	StaffName   string    `db:"staff_name" json:"staff_name"`
	StaffRole   string    `db:"staff_role" json:"staff_role"`
	Area        string    `db:"area" json:"area"`
	InjuryDate  string    `db:"injury_date" json:"injury_date"`
	Device      *string   `db:"device" json:"device,omitempty"`
	Procedure   *string   `db:"procedure" json:"procedure,omitempty"`
	SourceKnown bool      `db:"source_known" json:"source_known"`
	PEPGiven    bool      `db:"pep_given" json:"pep_given"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	ReportedBy  string    `db:"reported_by" json:"reported_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Susceptibility results.
const (
	ResultSusceptible  = "S"
	ResultIntermediate = "I"
	ResultResistant    = "R"
)

type Susceptibility struct {
	Antibiotic string `json:"antibiotic"`
	Result     string `json:"result"`
}

type CultureResult struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	PatientName      string           `db:"patient_name" json:"patient_name"`
	HospitalNumber   string           `db:"hospital_number" json:"hospital_number"`
	Area             string           `db:"area" json:"area"`
	Specimen         string           `db:"specimen" json:"specimen"`
	Organism         string           `db:"organism" json:"organism"`
	CollectedAt      string           `db:"collected_at" json:"collected_at"`
	Susceptibilities []Susceptibility `db:"susceptibilities" json:"susceptibilities"`
	Notes            *string          `db:"notes" json:"notes,omitempty"`
	RecordedBy       string           `db:"recorded_by" json:"recorded_by"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// AntibiogramEntry is the cumulative susceptibility of one organism to one
// antibiotic. Intermediate results count as not susceptible.
type AntibiogramEntry struct {
	Organism           string  `json:"organism"`
	Antibiotic         string  `json:"antibiotic"`
	Tested             int     `json:"tested"`
	Susceptible        int     `json:"susceptible"`
	PercentSusceptible float64 `json:"percent_susceptible"`
}
