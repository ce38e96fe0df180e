package directory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/internal/platform/db"
	"github.com/healthlink/healthlink/internal/platform/events"
)

var tracer = otel.Tracer("healthlink/directory")

const (
	codeAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength      = 4
	maxCodeAttempts = 10
	minSecretLength = 4
	minPasswordLen  = 6
)

// RandomCode returns prefix followed by four random base-36 uppercase
// characters.
func RandomCode(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

type Service struct {
	hospitals HospitalRepository
	doctors   DoctorRepository
	stores    StoreRepository
	busy      BusySlotReader
	tx        db.Transactor
	publisher events.Publisher
	issuer    *auth.Issuer
	loc       *time.Location
	now       func() time.Time
	newCode   func(prefix string) string
}

func NewService(hospitals HospitalRepository, doctors DoctorRepository, stores StoreRepository,
	tx db.Transactor, publisher events.Publisher, issuer *auth.Issuer) *Service {
	if tx == nil {
		tx = db.NopTransactor{}
	}
	return &Service{
		hospitals: hospitals,
		doctors:   doctors,
		stores:    stores,
		tx:        tx,
		publisher: publisher,
		issuer:    issuer,
		loc:       time.UTC,
		now:       time.Now,
		newCode:   RandomCode,
	}
}

// WithBusySlots sets the source of booked slots used by DoctorAvailability.
func (s *Service) WithBusySlots(r BusySlotReader) *Service {
	s.busy = r
	return s
}

// WithLocation sets the clinic timezone used to resolve "today".
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Message(err))
	}
	span.End()
}

// uniqueCode draws codes until exists reports a free one.
func (s *Service) uniqueCode(ctx context.Context, prefix string, exists func(context.Context, string) (bool, error)) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := s.newCode(prefix)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique %s code after %d attempts", prefix, maxCodeAttempts)
}

func validateFacility(req *RegisterFacilityRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Address = strings.TrimSpace(req.Address)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		return apperr.Validation("name is required")
	}
	if req.Address == "" {
		return apperr.Validation("address is required")
	}
	return checkSecretLength("pin", req.Pin, minSecretLength)
}

func checkSecretLength(field, secret string, minLen int) error {
	if len(secret) < minLen {
		return apperr.Validation("%s must be at least %d characters", field, minLen)
	}
	if len(secret) > auth.MaxSecretLen {
		return apperr.Validation("%s must be at most %d bytes", field, auth.MaxSecretLen)
	}
	return nil
}

// mapFacilityInsert turns a unique violation on the address index into
// DuplicateAddress.
func mapFacilityInsert(err error) error {
	if db.IsUniqueViolation(err) && strings.Contains(db.ConstraintName(err), "normalized_address") {
		return apperr.Wrap(apperr.KindDuplicateAddress, err, "a facility is already registered at this address")
	}
	return err
}

// RegisterHospital stores a new hospital and returns its generated code.
func (s *Service) RegisterHospital(ctx context.Context, req RegisterFacilityRequest) (reg *Registration, err error) {
	ctx, span := tracer.Start(ctx, "directory.RegisterHospital")
	defer func() { endSpan(span, err) }()

	if err := validateFacility(&req); err != nil {
		return nil, err
	}
	pinHash, err := auth.HashSecret(req.Pin)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	h := &Hospital{
		Name:              req.Name,
		Address:           req.Address,
		NormalizedAddress: NormalizeAddress(req.Address),
		Phone:             req.Phone,
		Email:             req.Email,
		PinHash:           pinHash,
		Status:            FacilityActive,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.hospitals.ExistsByAddress(ctx, h.NormalizedAddress)
		if err != nil {
			return fmt.Errorf("check hospital address: %w", err)
		}
		if exists {
			return apperr.ErrDuplicateAddress
		}
		if h.Code, err = s.uniqueCode(ctx, HospitalCodePrefix, s.hospitals.CodeExists); err != nil {
			return err
		}
		if err := s.hospitals.Create(ctx, h); err != nil {
			return fmt.Errorf("create hospital: %w", mapFacilityInsert(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("healthlink.hospital_code", h.Code))
	return &Registration{ID: h.ID, Code: h.Code, Status: h.Status}, nil
}

// RegisterMedicalStore stores a new pharmacy and returns its generated code.
func (s *Service) RegisterMedicalStore(ctx context.Context, req RegisterFacilityRequest) (reg *Registration, err error) {
	ctx, span := tracer.Start(ctx, "directory.RegisterMedicalStore")
	defer func() { endSpan(span, err) }()

	if err := validateFacility(&req); err != nil {
		return nil, err
	}
	pinHash, err := auth.HashSecret(req.Pin)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	st := &MedicalStore{
		Name:              req.Name,
		Address:           req.Address,
		NormalizedAddress: NormalizeAddress(req.Address),
		Phone:             req.Phone,
		Email:             req.Email,
		PinHash:           pinHash,
		Status:            FacilityActive,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.stores.ExistsByAddress(ctx, st.NormalizedAddress)
		if err != nil {
			return fmt.Errorf("check store address: %w", err)
		}
		if exists {
			return apperr.ErrDuplicateAddress
		}
		if st.Code, err = s.uniqueCode(ctx, StoreCodePrefix, s.stores.CodeExists); err != nil {
			return err
		}
		if err := s.stores.Create(ctx, st); err != nil {
			return fmt.Errorf("create medical store: %w", mapFacilityInsert(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("healthlink.store_code", st.Code))
	return &Registration{ID: st.ID, Code: st.Code, Status: st.Status}, nil
}

// RegisterDoctor creates a pending doctor under the hospital identified by
// code and name.
func (s *Service) RegisterDoctor(ctx context.Context, req RegisterDoctorRequest) (reg *Registration, err error) {
	ctx, span := tracer.Start(ctx, "directory.RegisterDoctor")
	defer func() { endSpan(span, err) }()

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return nil, apperr.Validation("name is required")
	}

	hospital, err := s.hospitals.GetByCode(ctx, req.HospitalCode)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrInvalidHospitalCode
		}
		return nil, fmt.Errorf("lookup hospital: %w", err)
	}
	if NormalizeName(hospital.Name) != NormalizeName(req.HospitalName) {
		return nil, apperr.ErrNameMismatch
	}

	d := &Doctor{
		Name:           req.Name,
		Specialty:      strings.TrimSpace(req.Specialty),
		Phone:          req.Phone,
		Email:          strings.TrimSpace(req.Email),
		HospitalID:     hospital.ID,
		Status:         DoctorPending,
		AvailableSlots: DefaultSlots(),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if d.Code, err = s.uniqueCode(ctx, DoctorCodePrefix, s.doctors.CodeExists); err != nil {
			return err
		}
		if err := s.doctors.Create(ctx, d); err != nil {
			if db.IsUniqueViolation(err) && strings.Contains(db.ConstraintName(err), "phone") {
				return apperr.Wrap(apperr.KindValidation, err, "phone %s is already registered", d.Phone)
			}
			return fmt.Errorf("create doctor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("healthlink.doctor_code", d.Code))
	return &Registration{ID: d.ID, Code: d.Code, Status: d.Status}, nil
}

// Login checks the code/secret pair for role and returns a session.
func (s *Service) Login(ctx context.Context, role, code, secret string) (sess *auth.Session, err error) {
	ctx, span := tracer.Start(ctx, "directory.Login", trace.WithAttributes(attribute.String("healthlink.role", role)))
	defer func() { endSpan(span, err) }()

	code = strings.TrimSpace(code)
	var subject, hash string
	switch role {
	case auth.RoleHospital:
		h, err := s.hospitals.GetByCode(ctx, code)
		if err != nil {
			return nil, credentialsError(err)
		}
		subject, hash = h.ID.String(), h.PinHash
	case auth.RoleMedicalStore:
		st, err := s.stores.GetByCode(ctx, code)
		if err != nil {
			return nil, credentialsError(err)
		}
		subject, hash = st.ID.String(), st.PinHash
	case auth.RoleDoctor:
		d, err := s.doctors.GetByCode(ctx, code)
		if err != nil {
			return nil, credentialsError(err)
		}
		subject, hash = d.ID.String(), d.PasswordHash
	default:
		return nil, apperr.Validation("unsupported login role %q", role)
	}

	if !auth.CheckSecret(hash, secret) {
		return nil, apperr.ErrInvalidCredentials
	}
	return s.issuer.Issue(subject, role, code)
}

func (s *Service) LoginHospital(ctx context.Context, code, pin string) (*auth.Session, error) {
	return s.Login(ctx, auth.RoleHospital, code, pin)
}

func (s *Service) LoginDoctor(ctx context.Context, code, password string) (*auth.Session, error) {
	return s.Login(ctx, auth.RoleDoctor, code, password)
}

func (s *Service) LoginMedicalStore(ctx context.Context, code, pin string) (*auth.Session, error) {
	return s.Login(ctx, auth.RoleMedicalStore, code, pin)
}

func credentialsError(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.ErrInvalidCredentials
	}
	return err
}

func (s *Service) publishApproved(ctx context.Context, d *Doctor) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Publish(ctx, events.Event{
		Aggregate:   events.AggregateDoctor,
		AggregateID: d.ID.String(),
		Type:        events.DoctorApproved,
		Payload: events.DoctorPayload{
			ID:         d.ID.String(),
			Code:       d.Code,
			Name:       d.Name,
			HospitalID: d.HospitalID.String(),
			Email:      d.Email,
			Phone:      d.Phone,
		},
	})
}

// ApproveDoctor moves a pending doctor to approved. Approving an approved
// doctor is a no-op.
func (s *Service) ApproveDoctor(ctx context.Context, id uuid.UUID) (doc *Doctor, err error) {
	ctx, span := tracer.Start(ctx, "directory.ApproveDoctor", trace.WithAttributes(attribute.String("healthlink.doctor_id", id.String())))
	defer func() { endSpan(span, err) }()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.doctors.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		doc = d
		if d.Status == DoctorApproved {
			return nil
		}
		d.Status = DoctorApproved
		if err := s.doctors.Update(ctx, d); err != nil {
			return fmt.Errorf("approve doctor: %w", err)
		}
		return s.publishApproved(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SetupDoctorPassword sets first-time credentials for the doctor registered
// with phone and marks the doctor approved.
func (s *Service) SetupDoctorPassword(ctx context.Context, phone, password string) (doc *Doctor, err error) {
	ctx, span := tracer.Start(ctx, "directory.SetupDoctorPassword")
	defer func() { endSpan(span, err) }()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.Validation("phone is required")
	}
	if err := checkSecretLength("password", password, minPasswordLen); err != nil {
		return nil, err
	}
	hash, err := auth.HashSecret(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.doctors.GetByPhone(ctx, phone)
		if err != nil {
			return err
		}
		if d.HasPassword() {
			return apperr.Validation("password already set; use reset-passkey")
		}
		wasPending := d.Status != DoctorApproved
		d.Status = DoctorApproved
		d.PasswordHash = hash
		if err := s.doctors.Update(ctx, d); err != nil {
			return fmt.Errorf("set doctor password: %w", err)
		}
		doc = d
		if wasPending {
			return s.publishApproved(ctx, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ResetDoctorPasskey replaces an existing password. The current password must
// be supplied.
func (s *Service) ResetDoctorPasskey(ctx context.Context, phone, currentPassword, newPassword string) (doc *Doctor, err error) {
	ctx, span := tracer.Start(ctx, "directory.ResetDoctorPasskey")
	defer func() { endSpan(span, err) }()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.Validation("phone is required")
	}
	if err := checkSecretLength("password", newPassword, minPasswordLen); err != nil {
		return nil, err
	}
	hash, err := auth.HashSecret(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.doctors.GetByPhone(ctx, phone)
		if err != nil {
			return err
		}
		if !d.HasPassword() || !auth.CheckSecret(d.PasswordHash, currentPassword) {
			return apperr.ErrInvalidCredentials
		}
		d.PasswordHash = hash
		if err := s.doctors.Update(ctx, d); err != nil {
			return fmt.Errorf("reset doctor password: %w", err)
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) SetDoctorAutoApprove(ctx context.Context, id uuid.UUID, on bool) (*Doctor, error) {
	var doc *Doctor
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.doctors.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		d.AutoApprove = on
		if err := s.doctors.Update(ctx, d); err != nil {
			return fmt.Errorf("set doctor auto-approve: %w", err)
		}
		doc = d
		return nil
	})
	return doc, err
}

func (s *Service) SetHospitalAutoApprove(ctx context.Context, code string, on bool) (*Hospital, error) {
	var hosp *Hospital
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		h, err := s.hospitals.GetByCodeForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if err := s.hospitals.SetAutoApprove(ctx, h.ID, on); err != nil {
			return fmt.Errorf("set hospital auto-approve: %w", err)
		}
		h.AutoApprove = on
		hosp = h
		return nil
	})
	return hosp, err
}

// SetDoctorAvailability replaces the doctor's bookable slot labels.
func (s *Service) SetDoctorAvailability(ctx context.Context, id uuid.UUID, slots []string) (*Doctor, error) {
	normalized, err := NormalizeSlots(slots)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	var doc *Doctor
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.doctors.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		d.AvailableSlots = normalized
		if err := s.doctors.Update(ctx, d); err != nil {
			return fmt.Errorf("set availability: %w", err)
		}
		doc = d
		return nil
	})
	return doc, err
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetHospital(ctx context.Context, code string) (*Hospital, error) {
	return s.hospitals.GetByCode(ctx, code)
}

func (s *Service) GetHospitalByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.hospitals.GetByID(ctx, id)
}

func (s *Service) GetMedicalStore(ctx context.Context, id uuid.UUID) (*MedicalStore, error) {
	return s.stores.GetByID(ctx, id)
}

func (s *Service) ListHospitals(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	return s.hospitals.List(ctx, limit, offset)
}

func (s *Service) ListMedicalStores(ctx context.Context, limit, offset int) ([]*MedicalStore, int, error) {
	return s.stores.List(ctx, limit, offset)
}

// ListDoctorsByHospital is the per-hospital doctor view.
func (s *Service) ListDoctorsByHospital(ctx context.Context, code string, limit, offset int) ([]*Doctor, int, error) {
	h, err := s.hospitals.GetByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}
	return s.doctors.ListByHospital(ctx, h.ID, limit, offset)
}

// Today returns the current date in the clinic timezone as YYYY-MM-DD.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(time.DateOnly)
}

// DoctorAvailability splits the doctor's slots for date into available and
// busy. An empty date means today.
func (s *Service) DoctorAvailability(ctx context.Context, id uuid.UUID, date string) (*Availability, error) {
	if date == "" {
		date = s.Today()
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, apperr.Validation("date must be YYYY-MM-DD")
	}
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var busy []string
	if s.busy != nil {
		if busy, err = s.busy.BusySlots(ctx, id, date); err != nil {
			return nil, fmt.Errorf("load busy slots: %w", err)
		}
	}
	taken := make(map[string]bool, len(busy))
	for _, b := range busy {
		taken[b] = true
	}
	available := make([]string, 0, len(d.AvailableSlots))
	for _, slot := range d.AvailableSlots {
		if !taken[slot] {
			available = append(available, slot)
		}
	}
	if busy == nil {
		busy = []string{}
	}
	return &Availability{DoctorID: id, Date: date, Available: available, Busy: busy}, nil
}
