package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/domain/appointment"
	"github.com/healthlink/healthlink/internal/domain/directory"
	"github.com/healthlink/healthlink/internal/domain/order"
	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/auth"
)

const registerAttempts = 3

// SeedConfig controls the volume and shape of the demo data.
type SeedConfig struct {
	Hospitals             int    `json:"hospitals"`
	DoctorsPerHospital    int    `json:"doctorsPerHospital"`
	MedicalStores         int    `json:"medicalStores"`
	Patients              int    `json:"patients"`
	AppointmentsPerDoctor int    `json:"appointmentsPerDoctor"`
	OrdersPerPatient      int    `json:"ordersPerPatient"`
	FacilityPin           string `json:"facilityPin"`
	DoctorPassword        string `json:"doctorPassword"`
	Seed                  int64  `json:"seed"`
}

// DefaultSeedConfig returns a small data set suitable for a laptop.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Hospitals:             2,
		DoctorsPerHospital:    2,
		MedicalStores:         2,
		Patients:              3,
		AppointmentsPerDoctor: 2,
		OrdersPerPatient:      1,
		FacilityPin:           "1234",
		DoctorPassword:        "demo-pass",
	}
}

func (c *SeedConfig) applyDefaults() {
	def := DefaultSeedConfig()
	if c.FacilityPin == "" {
		c.FacilityPin = def.FacilityPin
	}
	if c.DoctorPassword == "" {
		c.DoctorPassword = def.DoctorPassword
	}
}

// Directory is the part of the directory service the seeder drives.
type Directory interface {
	RegisterHospital(ctx context.Context, req directory.RegisterFacilityRequest) (*directory.Registration, error)
	RegisterMedicalStore(ctx context.Context, req directory.RegisterFacilityRequest) (*directory.Registration, error)
	RegisterDoctor(ctx context.Context, req directory.RegisterDoctorRequest) (*directory.Registration, error)
	SetupDoctorPassword(ctx context.Context, phone, password string) (*directory.Doctor, error)
	SetDoctorAutoApprove(ctx context.Context, id uuid.UUID, on bool) (*directory.Doctor, error)
}

type Bookings interface {
	BookAppointment(ctx context.Context, userID string, req appointment.BookRequest) (*appointment.Appointment, error)
}

type Orders interface {
	PlaceOrder(ctx context.Context, userID string, req order.PlaceRequest) (*order.Order, error)
}

// TokenIssuer mints sessions for demo patients, who have no login of their
// own.
type TokenIssuer interface {
	Issue(subject, role, code string) (*auth.Session, error)
}

// Credential is one demo login.
type Credential struct {
	Role    string    `json:"role"`
	Name    string    `json:"name"`
	ID      uuid.UUID `json:"id,omitempty"`
	Code    string    `json:"code,omitempty"`
	Secret  string    `json:"secret,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Token   string    `json:"token,omitempty"`
}

// SeedResult summarises one run.
type SeedResult struct {
	Hospitals     int           `json:"hospitals"`
	Doctors       int           `json:"doctors"`
	MedicalStores int           `json:"medicalStores"`
	Patients      int           `json:"patients"`
	Appointments  int           `json:"appointments"`
	Orders        int           `json:"orders"`
	Skipped       int           `json:"skipped"`
	Credentials   []Credential  `json:"credentials"`
	Duration      time.Duration `json:"duration"`
}

// Seeder registers demo entities through the services.
type Seeder struct {
	dir    Directory
	appts  Bookings
	orders Orders
	issuer TokenIssuer
	logger zerolog.Logger

	mu   sync.Mutex
	last *SeedResult
}

// NewSeeder wires a seeder. issuer may be nil, in which case patient
// credentials carry no token.
func NewSeeder(dir Directory, appts Bookings, orders Orders, issuer TokenIssuer, logger zerolog.Logger) *Seeder {
	return &Seeder{
		dir:    dir,
		appts:  appts,
		orders: orders,
		issuer: issuer,
		logger: logger.With().Str("component", "sandbox").Logger(),
	}
}

type seededHospital struct {
	id   uuid.UUID
	code string
	name string
}

type seededDoctor struct {
	id       uuid.UUID
	hospital uuid.UUID
}

// Generate creates the demo data set described by cfg.
func (s *Seeder) Generate(ctx context.Context, cfg SeedConfig) (*SeedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	cfg.applyDefaults()
	gen := NewDataGenerator(cfg.Seed)
	result := &SeedResult{}

	var hospitals []seededHospital
	for i := 0; i < cfg.Hospitals; i++ {
		var req directory.RegisterFacilityRequest
		reg, err := register(func() (*directory.Registration, error) {
			req = gen.Hospital(cfg.FacilityPin)
			return s.dir.RegisterHospital(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("seed hospital: %w", err)
		}
		hospitals = append(hospitals, seededHospital{id: reg.ID, code: reg.Code, name: req.Name})
		result.Credentials = append(result.Credentials, Credential{
			Role: auth.RoleHospital, Name: req.Name, ID: reg.ID, Code: reg.Code, Secret: cfg.FacilityPin,
		})
		result.Hospitals++
	}

	var doctors []seededDoctor
	for _, h := range hospitals {
		for i := 0; i < cfg.DoctorsPerHospital; i++ {
			req := gen.Doctor(h.code, h.name)
			reg, err := s.dir.RegisterDoctor(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("seed doctor: %w", err)
			}
			if _, err := s.dir.SetupDoctorPassword(ctx, req.Phone, cfg.DoctorPassword); err != nil {
				return nil, fmt.Errorf("approve doctor %s: %w", reg.Code, err)
			}
			// Every other doctor accepts bookings without review.
			if i%2 == 1 {
				if _, err := s.dir.SetDoctorAutoApprove(ctx, reg.ID, true); err != nil {
					return nil, fmt.Errorf("auto-approve doctor %s: %w", reg.Code, err)
				}
			}
			doctors = append(doctors, seededDoctor{id: reg.ID, hospital: h.id})
			result.Credentials = append(result.Credentials, Credential{
				Role: auth.RoleDoctor, Name: req.Name, ID: reg.ID, Code: reg.Code, Secret: cfg.DoctorPassword,
			})
			result.Doctors++
		}
	}

	var stores []uuid.UUID
	for i := 0; i < cfg.MedicalStores; i++ {
		var req directory.RegisterFacilityRequest
		reg, err := register(func() (*directory.Registration, error) {
			req = gen.MedicalStore(cfg.FacilityPin)
			return s.dir.RegisterMedicalStore(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("seed medical store: %w", err)
		}
		stores = append(stores, reg.ID)
		result.Credentials = append(result.Credentials, Credential{
			Role: auth.RoleMedicalStore, Name: req.Name, ID: reg.ID, Code: reg.Code, Secret: cfg.FacilityPin,
		})
		result.MedicalStores++
	}

	patients := make([]Credential, 0, cfg.Patients)
	for i := 0; i < cfg.Patients; i++ {
		p := Credential{
			Role:    auth.RolePatient,
			Name:    gen.personName(),
			Subject: "demo-patient-" + uuid.NewString()[:8],
		}
		if s.issuer != nil {
			sess, err := s.issuer.Issue(p.Subject, auth.RolePatient, "")
			if err != nil {
				return nil, fmt.Errorf("issue patient token: %w", err)
			}
			p.Token = sess.Token
		}
		patients = append(patients, p)
		result.Credentials = append(result.Credentials, p)
		result.Patients++
	}

	if len(patients) > 0 {
		slots := directory.DefaultSlots()
		n := 0
		for _, d := range doctors {
			for i := 0; i < cfg.AppointmentsPerDoctor && i < len(slots); i++ {
				p := patients[n%len(patients)]
				n++
				req := gen.Booking(d.id.String(), d.hospital.String(), slots[len(slots)-1-i], p.Name)
				if _, err := s.appts.BookAppointment(ctx, p.Subject, req); err != nil {
					if errors.Is(err, apperr.ErrSlotUnavailable) {
						result.Skipped++
						continue
					}
					return nil, fmt.Errorf("seed appointment: %w", err)
				}
				result.Appointments++
			}
		}

		for _, p := range patients {
			for i := 0; i < cfg.OrdersPerPatient && len(stores) > 0; i++ {
				store := stores[result.Orders%len(stores)]
				if _, err := s.orders.PlaceOrder(ctx, p.Subject, gen.Order(store.String(), p.Name)); err != nil {
					return nil, fmt.Errorf("seed order: %w", err)
				}
				result.Orders++
			}
		}
	}

	result.Duration = time.Since(start)
	s.last = result
	s.logger.Info().
		Int("hospitals", result.Hospitals).
		Int("doctors", result.Doctors).
		Int("stores", result.MedicalStores).
		Int("appointments", result.Appointments).
		Int("orders", result.Orders).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration).
		Msg("demo data seeded")
	return result, nil
}

// register retries fn when the generated address is already taken.
func register(fn func() (*directory.Registration, error)) (*directory.Registration, error) {
	var err error
	for i := 0; i < registerAttempts; i++ {
		var reg *directory.Registration
		if reg, err = fn(); err == nil {
			return reg, nil
		}
		if !errors.Is(err, apperr.ErrDuplicateAddress) {
			return nil, err
		}
	}
	return nil, err
}

// Last returns the result of the most recent run, or nil.
func (s *Seeder) Last() *SeedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// ExportNDJSON writes each credential as one JSON line.
func (r *SeedResult) ExportNDJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, c := range r.Credentials {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("encoding credential %s: %w", c.Code, err)
		}
	}
	return nil
}

// WriteTable prints the credentials for a terminal.
func (r *SeedResult) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tNAME\tCODE / SUBJECT\tSECRET")
	for _, c := range r.Credentials {
		login, secret := c.Code, c.Secret
		if c.Role == auth.RolePatient {
			login, secret = c.Subject, c.Token
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Role, c.Name, login, secret)
	}
	return tw.Flush()
}
