package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Code prefixes.
const (
	HospitalCodePrefix = "HOSP-"
	StoreCodePrefix    = "MSTR-"
	DoctorCodePrefix   = "DOC-"
)

// Doctor statuses.
const (
	DoctorPending  = "pending"
	DoctorApproved = "approved"
)

const FacilityActive = "active"

type Hospital struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	Address           string    `json:"address"`
	NormalizedAddress string    `json:"-"`
	Phone             string    `json:"phone,omitempty"`
	Email             string    `json:"email,omitempty"`
	PinHash           string    `json:"-"`
	Rating            float64   `json:"rating"`
	Status            string    `json:"status"`
	AutoApprove       bool      `json:"autoApprove"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type MedicalStore struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	Address           string    `json:"address"`
	NormalizedAddress string    `json:"-"`
	Phone             string    `json:"phone,omitempty"`
	Email             string    `json:"email,omitempty"`
	PinHash           string    `json:"-"`
	Rating            float64   `json:"rating"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type Doctor struct {
	ID             uuid.UUID `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Specialty      string    `json:"specialty,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Email          string    `json:"email,omitempty"`
	HospitalID     uuid.UUID `json:"hospitalId"`
	Status         string    `json:"status"`
	PasswordHash   string    `json:"-"`
	AutoApprove    bool      `json:"autoApprove"`
	AvailableSlots []string  `json:"availableSlots"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HasPassword reports whether first-time credentials have been set.
func (d *Doctor) HasPassword() bool { return d.PasswordHash != "" }

// Availability is a doctor's schedule for one date.
type Availability struct {
	DoctorID  uuid.UUID `json:"doctorId"`
	Date      string    `json:"date"`
	Available []string  `json:"available"`
	Busy      []string  `json:"busy"`
}

type RegisterFacilityRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Pin     string `json:"pin"`
}

type RegisterDoctorRequest struct {
	Name         string `json:"name"`
	Specialty    string `json:"specialty"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	HospitalCode string `json:"hospitalCode"`
	HospitalName string `json:"hospitalName"`
}

// Registration is returned by the register operations.
type Registration struct {
	ID     uuid.UUID `json:"id"`
	Code   string    `json:"code"`
	Status string    `json:"status"`
}

// NormalizeAddress lowercases, trims and collapses inner whitespace so that
// "  12 Main  St" and "12 main st" compare equal.
func NormalizeAddress(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// NormalizeName is the comparison form of a hospital name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultSlots returns the working-day schedule: 30-minute labels from
// 10:00 AM through 05:30 PM.
func DefaultSlots() []string {
	slots := make([]string, 0, 16)
	start := time.Date(2000, 1, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2000, 1, 1, 18, 0, 0, 0, time.UTC)
	for t := start; t.Before(end); t = t.Add(30 * time.Minute) {
		slots = append(slots, t.Format("03:04 PM"))
	}
	return slots
}

// NormalizeSlots trims labels, drops empties and duplicates, and keeps the
// first-seen order.
func NormalizeSlots(slots []string) ([]string, error) {
	seen := make(map[string]bool, len(slots))
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("slot labels must not be empty")
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
