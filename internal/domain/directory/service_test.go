package directory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthlink/healthlink/internal/platform/apperr"
	"github.com/healthlink/healthlink/internal/platform/auth"
	"github.com/healthlink/healthlink/internal/platform/events"
)

type testEnv struct {
	svc       *Service
	hospitals *mockHospitalRepo
	doctors   *mockDoctorRepo
	stores    *mockStoreRepo
	events    *events.Recorder
}

func newTestEnv() *testEnv {
	env := &testEnv{
		hospitals: newMockHospitalRepo(),
		doctors:   newMockDoctorRepo(),
		stores:    newMockStoreRepo(),
		events:    &events.Recorder{},
	}
	issuer := auth.NewIssuer([]byte("test-signing-key-test-signing-key"), "healthlink", time.Hour)
	env.svc = NewService(env.hospitals, env.doctors, env.stores, nil, env.events, issuer)
	return env
}

func (env *testEnv) registerHospital(t *testing.T, name, address string) *Registration {
	t.Helper()
	reg, err := env.svc.RegisterHospital(context.Background(), RegisterFacilityRequest{Name: name, Address: address, Pin: "1234"})
	if err != nil {
		t.Fatalf("RegisterHospital() error: %v", err)
	}
	return reg
}

func (env *testEnv) registerDoctor(t *testing.T, hosp *Registration, hospitalName, phone string) *Registration {
	t.Helper()
	reg, err := env.svc.RegisterDoctor(context.Background(), RegisterDoctorRequest{
		Name: "Dr. X", Specialty: "General", Phone: phone,
		HospitalCode: hosp.Code, HospitalName: hospitalName,
	})
	if err != nil {
		t.Fatalf("RegisterDoctor() error: %v", err)
	}
	return reg
}

func TestNormalizeAddress(t *testing.T) {
	tests := map[string]string{
		"Madhapur":              "madhapur",
		"  MADHAPUR  ":          "madhapur",
		"12  Main\tStreet ":     "12 main street",
		"":                      "",
		"Road No. 36, Jubilee ": "road no. 36, jubilee",
	}
	for in, want := range tests {
		if got := NormalizeAddress(in); got != want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultSlots(t *testing.T) {
	slots := DefaultSlots()
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
	if slots[0] != "10:00 AM" || slots[len(slots)-1] != "05:30 PM" {
		t.Errorf("unexpected bounds %q .. %q", slots[0], slots[len(slots)-1])
	}
}

func TestRandomCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := RandomCode(HospitalCodePrefix)
		if !strings.HasPrefix(code, "HOSP-") || len(code) != len("HOSP-")+4 {
			t.Fatalf("unexpected code %q", code)
		}
		for _, r := range strings.TrimPrefix(code, "HOSP-") {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q outside base-36 uppercase", code, r)
			}
		}
	}
}

func TestRegisterHospital(t *testing.T) {
	env := newTestEnv()
	reg := env.registerHospital(t, "City Care", "Madhapur")
	if !strings.HasPrefix(reg.Code, HospitalCodePrefix) {
		t.Errorf("expected HOSP- code, got %s", reg.Code)
	}
	h, err := env.svc.GetHospital(context.Background(), reg.Code)
	if err != nil {
		t.Fatalf("GetHospital() error: %v", err)
	}
	if h.Rating != 0 || h.Status != FacilityActive || h.AutoApprove {
		t.Errorf("unexpected defaults: %+v", h)
	}
	if h.PinHash == "" || h.PinHash == "1234" {
		t.Error("expected hashed pin")
	}
}

func TestRegisterHospital_DuplicateAddress(t *testing.T) {
	env := newTestEnv()
	env.registerHospital(t, "City Care", "Madhapur")

	_, err := env.svc.RegisterHospital(context.Background(), RegisterFacilityRequest{Name: "Other", Address: "  madhapur ", Pin: "9999"})
	if !errors.Is(err, apperr.ErrDuplicateAddress) {
		t.Fatalf("expected DuplicateAddress, got %v", err)
	}
}

func TestRegisterHospital_UniqueViolationRace(t *testing.T) {
	env := newTestEnv()
	env.hospitals.raceAddress = true
	_, err := env.svc.RegisterHospital(context.Background(), RegisterFacilityRequest{Name: "City Care", Address: "Madhapur", Pin: "1234"})
	if apperr.KindOf(err) != apperr.KindDuplicateAddress {
		t.Fatalf("expected DuplicateAddress, got %v", err)
	}
}

func TestRegisterHospital_Validation(t *testing.T) {
	env := newTestEnv()
	cases := []RegisterFacilityRequest{
		{Address: "x", Pin: "1234"},
		{Name: "x", Pin: "1234"},
		{Name: "x", Address: "y", Pin: "1"},
		{Name: "x", Address: "y", Pin: strings.Repeat("9", auth.MaxSecretLen+1)},
	}
	for _, req := range cases {
		if _, err := env.svc.RegisterHospital(context.Background(), req); apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("%+v: expected Validation, got %v", req, err)
		}
	}
}

func TestRegisterHospital_CodeCollisionRetries(t *testing.T) {
	env := newTestEnv()
	codes := []string{"HOSP-AAAA", "HOSP-AAAA", "HOSP-BBBB"}
	env.svc.newCode = func(string) string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	first := env.registerHospital(t, "One", "Addr 1")
	second := env.registerHospital(t, "Two", "Addr 2")
	if first.Code != "HOSP-AAAA" || second.Code != "HOSP-BBBB" {
		t.Errorf("unexpected codes %s, %s", first.Code, second.Code)
	}
}

func TestRegisterHospital_CodeSpaceExhausted(t *testing.T) {
	env := newTestEnv()
	env.svc.newCode = func(string) string { return "HOSP-AAAA" }
	env.registerHospital(t, "One", "Addr 1")
	if _, err := env.svc.RegisterHospital(context.Background(), RegisterFacilityRequest{Name: "Two", Address: "Addr 2", Pin: "1234"}); err == nil {
		t.Fatal("expected error when no unique code can be drawn")
	}
}

func TestRegisterMedicalStore(t *testing.T) {
	env := newTestEnv()
	reg, err := env.svc.RegisterMedicalStore(context.Background(), RegisterFacilityRequest{Name: "City Pharmacy", Address: "Kondapur", Pin: "4321"})
	if err != nil {
		t.Fatalf("RegisterMedicalStore() error: %v", err)
	}
	if !strings.HasPrefix(reg.Code, StoreCodePrefix) {
		t.Errorf("expected MSTR- code, got %s", reg.Code)
	}
	_, err = env.svc.RegisterMedicalStore(context.Background(), RegisterFacilityRequest{Name: "Other", Address: "KONDAPUR", Pin: "4321"})
	if !errors.Is(err, apperr.ErrDuplicateAddress) {
		t.Errorf("expected DuplicateAddress, got %v", err)
	}
}

func TestRegisterDoctor(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")

	reg := env.registerDoctor(t, hosp, "  city care ", "+15550001")
	if reg.Status != DoctorPending || !strings.HasPrefix(reg.Code, DoctorCodePrefix) {
		t.Errorf("unexpected registration %+v", reg)
	}

	d, err := env.svc.GetDoctor(context.Background(), reg.ID)
	if err != nil {
		t.Fatalf("GetDoctor() error: %v", err)
	}
	if len(d.AvailableSlots) != len(DefaultSlots()) {
		t.Errorf("expected default availability, got %v", d.AvailableSlots)
	}
	if d.HospitalID != hosp.ID {
		t.Errorf("expected hospital %s, got %s", hosp.ID, d.HospitalID)
	}

	doctors, total, err := env.svc.ListDoctorsByHospital(context.Background(), hosp.Code, 20, 0)
	if err != nil || total != 1 || doctors[0].ID != reg.ID {
		t.Errorf("per-hospital view = %v, %d, %v", doctors, total, err)
	}
}

func TestRegisterDoctor_InvalidHospital(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")

	_, err := env.svc.RegisterDoctor(context.Background(), RegisterDoctorRequest{Name: "Dr. X", HospitalCode: "HOSP-ZZZZ", HospitalName: "City Care"})
	if !errors.Is(err, apperr.ErrInvalidHospitalCode) {
		t.Errorf("expected InvalidHospitalCode, got %v", err)
	}
	_, err = env.svc.RegisterDoctor(context.Background(), RegisterDoctorRequest{Name: "Dr. X", HospitalCode: strings.ToLower(hosp.Code), HospitalName: "City Care"})
	if !errors.Is(err, apperr.ErrInvalidHospitalCode) {
		t.Errorf("expected exact code match, got %v", err)
	}
	_, err = env.svc.RegisterDoctor(context.Background(), RegisterDoctorRequest{Name: "Dr. X", HospitalCode: hosp.Code, HospitalName: "City Clinic"})
	if !errors.Is(err, apperr.ErrNameMismatch) {
		t.Errorf("expected NameMismatch, got %v", err)
	}
}

func TestRegisterDoctor_DuplicatePhone(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	env.registerDoctor(t, hosp, "City Care", "+15550001")

	_, err := env.svc.RegisterDoctor(context.Background(), RegisterDoctorRequest{Name: "Dr. Y", Phone: "+15550001", HospitalCode: hosp.Code, HospitalName: "City Care"})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected Validation for duplicate phone, got %v", err)
	}
}

func TestApproveDoctor_Idempotent(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	doc := env.registerDoctor(t, hosp, "City Care", "+15550001")

	for i := 0; i < 2; i++ {
		d, err := env.svc.ApproveDoctor(context.Background(), doc.ID)
		if err != nil {
			t.Fatalf("ApproveDoctor() error: %v", err)
		}
		if d.Status != DoctorApproved {
			t.Errorf("expected approved, got %s", d.Status)
		}
	}

	stored, _ := env.svc.GetDoctor(context.Background(), doc.ID)
	if stored.Status != DoctorApproved {
		t.Errorf("approval not persisted: %s", stored.Status)
	}
	if types := env.events.Types(); len(types) != 1 || types[0] != events.DoctorApproved {
		t.Errorf("expected a single doctor.approved event, got %v", types)
	}
}

func TestApproveDoctor_NotFound(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.ApproveDoctor(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestSetupAndResetDoctorPassword(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	doc := env.registerDoctor(t, hosp, "City Care", "+15550001")
	ctx := context.Background()

	if _, err := env.svc.ResetDoctorPasskey(ctx, "+15550001", "", "newpass1"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("reset before setup: expected InvalidCredentials, got %v", err)
	}

	d, err := env.svc.SetupDoctorPassword(ctx, "+15550001", "secret1")
	if err != nil {
		t.Fatalf("SetupDoctorPassword() error: %v", err)
	}
	if d.Status != DoctorApproved {
		t.Errorf("expected approved after setup, got %s", d.Status)
	}
	if _, err := env.svc.SetupDoctorPassword(ctx, "+15550001", "secret2"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("second setup: expected Validation, got %v", err)
	}

	if _, err := env.svc.LoginDoctor(ctx, doc.Code, "secret1"); err != nil {
		t.Fatalf("LoginDoctor() error: %v", err)
	}

	if _, err := env.svc.ResetDoctorPasskey(ctx, "+15550001", "wrong", "newpass1"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("reset with wrong password: expected InvalidCredentials, got %v", err)
	}
	if _, err := env.svc.ResetDoctorPasskey(ctx, "+15550001", "secret1", "newpass1"); err != nil {
		t.Fatalf("ResetDoctorPasskey() error: %v", err)
	}
	if _, err := env.svc.LoginDoctor(ctx, doc.Code, "secret1"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("old password should fail, got %v", err)
	}
	if _, err := env.svc.LoginDoctor(ctx, doc.Code, "newpass1"); err != nil {
		t.Errorf("new password should work, got %v", err)
	}

	if _, err := env.svc.SetupDoctorPassword(ctx, "+15559999", "secret1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown phone: expected NotFound, got %v", err)
	}
}

func TestSecretLengthLimit(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	tooLong := strings.Repeat("9", auth.MaxSecretLen+1)

	if _, err := env.svc.RegisterMedicalStore(ctx, RegisterFacilityRequest{Name: "Pharma", Address: "Kondapur", Pin: tooLong}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("store pin: expected Validation, got %v", err)
	}
	longest := strings.Repeat("9", auth.MaxSecretLen)
	hosp, err := env.svc.RegisterHospital(ctx, RegisterFacilityRequest{Name: "City Care", Address: "Madhapur", Pin: longest})
	if err != nil {
		t.Fatalf("RegisterHospital() with %d-byte pin: %v", auth.MaxSecretLen, err)
	}

	env.registerDoctor(t, hosp, "City Care", "+15550001")
	if _, err := env.svc.SetupDoctorPassword(ctx, "+15550001", tooLong); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("setup: expected Validation, got %v", err)
	}
	if _, err := env.svc.SetupDoctorPassword(ctx, "+15550001", "secret1"); err != nil {
		t.Fatalf("SetupDoctorPassword() error: %v", err)
	}
	if _, err := env.svc.ResetDoctorPasskey(ctx, "+15550001", "secret1", tooLong); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("reset: expected Validation, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	ctx := context.Background()

	sess, err := env.svc.LoginHospital(ctx, hosp.Code, "1234")
	if err != nil {
		t.Fatalf("LoginHospital() error: %v", err)
	}
	if sess.Token == "" || sess.Role != auth.RoleHospital || sess.Subject != hosp.ID.String() {
		t.Errorf("unexpected session %+v", sess)
	}

	if _, err := env.svc.LoginHospital(ctx, hosp.Code, "0000"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("wrong pin: expected InvalidCredentials, got %v", err)
	}
	if _, err := env.svc.LoginHospital(ctx, "HOSP-NONE", "1234"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("unknown code: expected InvalidCredentials, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "patient", hosp.Code, "1234"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("unsupported role: expected Validation, got %v", err)
	}

	store, _ := env.svc.RegisterMedicalStore(ctx, RegisterFacilityRequest{Name: "Pharma", Address: "Kondapur", Pin: "5678"})
	if _, err := env.svc.LoginMedicalStore(ctx, store.Code, "5678"); err != nil {
		t.Errorf("LoginMedicalStore() error: %v", err)
	}
}

func TestLoginDoctor_PendingWithoutPassword(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	doc := env.registerDoctor(t, hosp, "City Care", "+15550001")

	if _, err := env.svc.LoginDoctor(context.Background(), doc.Code, ""); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("expected InvalidCredentials, got %v", err)
	}
}

func TestAutoApproveToggles(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	doc := env.registerDoctor(t, hosp, "City Care", "")
	ctx := context.Background()

	d, err := env.svc.SetDoctorAutoApprove(ctx, doc.ID, true)
	if err != nil || !d.AutoApprove {
		t.Fatalf("SetDoctorAutoApprove() = %+v, %v", d, err)
	}
	h, err := env.svc.SetHospitalAutoApprove(ctx, hosp.Code, true)
	if err != nil || !h.AutoApprove {
		t.Fatalf("SetHospitalAutoApprove() = %+v, %v", h, err)
	}
	if _, err := env.svc.SetHospitalAutoApprove(ctx, "HOSP-NONE", true); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestDoctorAvailability(t *testing.T) {
	env := newTestEnv()
	hosp := env.registerHospital(t, "City Care", "Madhapur")
	doc := env.registerDoctor(t, hosp, "City Care", "")
	ctx := context.Background()

	if _, err := env.svc.SetDoctorAvailability(ctx, doc.ID, []string{"09:00 AM", " 09:30 AM", "09:00 AM", "10:00 AM"}); err != nil {
		t.Fatalf("SetDoctorAvailability() error: %v", err)
	}
	env.svc.WithBusySlots(mockBusySlots{doc.ID.String() + "|2026-03-02": {"09:30 AM"}})

	a, err := env.svc.DoctorAvailability(ctx, doc.ID, "2026-03-02")
	if err != nil {
		t.Fatalf("DoctorAvailability() error: %v", err)
	}
	if strings.Join(a.Available, ",") != "09:00 AM,10:00 AM" {
		t.Errorf("unexpected available %v", a.Available)
	}
	if len(a.Busy) != 1 || a.Busy[0] != "09:30 AM" {
		t.Errorf("unexpected busy %v", a.Busy)
	}

	other, err := env.svc.DoctorAvailability(ctx, doc.ID, "2026-03-03")
	if err != nil {
		t.Fatalf("DoctorAvailability() error: %v", err)
	}
	if len(other.Available) != 3 || len(other.Busy) != 0 {
		t.Errorf("another date should be free: %+v", other)
	}

	if _, err := env.svc.DoctorAvailability(ctx, doc.ID, "03/02/2026"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected Validation for bad date, got %v", err)
	}
	if _, err := env.svc.SetDoctorAvailability(ctx, doc.ID, []string{"  "}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected Validation for empty label, got %v", err)
	}
}

func TestToday_UsesClinicTimezone(t *testing.T) {
	env := newTestEnv()
	loc := time.FixedZone("IST", 5*3600+1800)
	env.svc.WithLocation(loc)
	env.svc.now = func() time.Time { return time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC) }
	if got := env.svc.Today(); got != "2026-03-02" {
		t.Errorf("Today() = %s, want 2026-03-02", got)
	}
}
