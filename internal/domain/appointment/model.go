package appointment

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusConfirmed  = "Confirmed"
	StatusAccepted   = "Accepted"
	StatusRejected   = "Rejected"
	StatusPrescribed = "Prescribed"
)

// Visit types.
const (
	VisitHospital = "hospital"
	VisitOnline   = "online"
	VisitHome     = "home"
)

const (
	IDPrefix  = "APT-"
	SlotLabel = "03:04 PM"
)

var validStatuses = map[string]bool{
	StatusConfirmed:  true,
	StatusAccepted:   true,
	StatusRejected:   true,
	StatusPrescribed: true,
}

var validVisitTypes = map[string]bool{
	VisitHospital: true,
	VisitOnline:   true,
	VisitHome:     true,
}

// transitions lists the statuses reachable from each status. Rejected and
// Prescribed are terminal.
var transitions = map[string][]string{
	StatusConfirmed: {StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusRejected, StatusPrescribed},
}

func IsValidStatus(s string) bool    { return validStatuses[s] }
func IsValidVisitType(v string) bool { return validVisitTypes[v] }

// CanTransition reports whether an appointment may move from one status to
// another. Staying in the same status is always allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return validStatuses[to]
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	DoctorID     uuid.UUID     `json:"doctorId"`
	HospitalID   uuid.UUID     `json:"hospitalId"`
	VisitType    string        `json:"visitType"`
	Date         string        `json:"date"`
	Time         string        `json:"time"`
	Symptoms     []string      `json:"symptoms"`
	Status       string        `json:"status"`
	MeetingLink  string        `json:"meetingLink,omitempty"`
	ContactEmail string        `json:"contactEmail,omitempty"`
	ContactPhone string        `json:"contactPhone,omitempty"`
	Prescription *Prescription `json:"prescription,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Prescription maps to the prescriptions table. One per appointment.
type Prescription struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID string    `json:"appointmentId"`
	Medicine      string    `json:"medicine"`
	Dosage        string    `json:"dosage"`
	Duration      string    `json:"duration"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// BookRequest is the body of POST /appointments. Date defaults to today in
// the clinic timezone and HospitalID to the doctor's hospital.
type BookRequest struct {
	DoctorID     string   `json:"doctorId"`
	HospitalID   string   `json:"hospitalId"`
	Date         string   `json:"date"`
	Time         string   `json:"time"`
	VisitType    string   `json:"visitType"`
	Symptoms     []string `json:"symptoms"`
	ContactEmail string   `json:"contactEmail"`
	ContactPhone string   `json:"contactPhone"`
}

type PrescriptionRequest struct {
	Medicine string `json:"medicine"`
	Dosage   string `json:"dosage"`
	Duration string `json:"duration"`
	Notes    string `json:"notes"`
}

// Filter narrows appointment listings. Empty fields are ignored.
type Filter struct {
	UserID     string
	DoctorID   string
	HospitalID string
	Date       string
	Status     string
}

func cleanSymptoms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SortSlots orders slot labels by clock time. Labels that do not parse as
// "03:04 PM" sort after the rest, alphabetically.
func SortSlots(slots []string) {
	sort.SliceStable(slots, func(i, j int) bool {
		ti, erri := time.Parse(SlotLabel, slots[i])
		tj, errj := time.Parse(SlotLabel, slots[j])
		switch {
		case erri == nil && errj == nil:
			return ti.Before(tj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		}
		return slots[i] < slots[j]
	})
}
