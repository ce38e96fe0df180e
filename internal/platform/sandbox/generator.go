// Package sandbox seeds a development database with demo hospitals, doctors,
// medical stores, patients, appointments and orders. Everything it creates
// goes through the regular services, so the fixtures obey the same rules as
// real traffic. The printed credentials are the only demo logins; the
// authentication path has no built-in fallbacks.
package sandbox

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/healthlink/healthlink/internal/domain/appointment"
	"github.com/healthlink/healthlink/internal/domain/directory"
	"github.com/healthlink/healthlink/internal/domain/order"
)

var (
	hospitalNames = []string{
		"Sunrise", "Lotus", "CityCare", "Apollo", "Medanta", "Lifeline",
		"Green Valley", "St. Mary's", "Riverside", "Unity",
	}
	hospitalKinds = []string{"Hospital", "Multispeciality Hospital", "Clinic", "Medical Centre"}

	storeNames = []string{"HealthPlus", "MedPoint", "Wellness", "CarePharm", "QuickMeds", "Nova"}
	storeKinds = []string{"Pharmacy", "Medical Store", "Chemists"}

	streets = []string{
		"MG Road", "Banjara Hills", "Jubilee Hills", "Madhapur", "Kondapur",
		"Ameerpet", "Begumpet", "Gachibowli", "Kukatpally", "Secunderabad",
	}
	cities = []string{"Hyderabad", "Bengaluru", "Chennai", "Pune"}

	firstNames = []string{
		"Aarav", "Vivaan", "Aditya", "Ananya", "Diya", "Ishaan", "Kavya",
		"Meera", "Rohan", "Saanvi", "Arjun", "Priya", "Rahul", "Nisha",
	}
	lastNames = []string{
		"Sharma", "Reddy", "Iyer", "Patel", "Rao", "Nair", "Gupta",
		"Menon", "Kumar", "Singh", "Das", "Verma",
	}
	specialties = []string{
		"General Medicine", "Cardiology", "Dermatology", "Paediatrics",
		"Orthopaedics", "ENT", "Gynaecology", "Neurology",
	}

	symptomPool = []string{
		"fever", "headache", "cough", "sore throat", "back pain", "rash",
		"fatigue", "dizziness", "joint pain", "nausea",
	}
	medicines = []order.Item{
		{Name: "Paracetamol 500mg", Price: 30},
		{Name: "Cetirizine 10mg", Price: 45},
		{Name: "Amoxicillin 250mg", Price: 120},
		{Name: "ORS Sachet", Price: 20},
		{Name: "Vitamin D3", Price: 210},
		{Name: "Pantoprazole 40mg", Price: 95},
		{Name: "Cough Syrup 100ml", Price: 85},
	}
	visitTypes = []string{appointment.VisitHospital, appointment.VisitOnline, appointment.VisitHome}
)

// DataGenerator produces random but reproducible registration and booking
// requests.
type DataGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) address() string {
	g.counter++
	return fmt.Sprintf("%d-%d, %s, %s", 1+g.rng.Intn(999), g.counter, g.pick(streets), g.pick(cities))
}

// Phone returns an Indian mobile number. The running counter keeps numbers
// from one generator distinct.
func (g *DataGenerator) Phone() string {
	g.counter++
	return fmt.Sprintf("+91 9%04d%05d", g.rng.Intn(10000), g.counter%100000)
}

func (g *DataGenerator) personName() string {
	return g.pick(firstNames) + " " + g.pick(lastNames)
}

func emailFor(name string, n uint64) string {
	local := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch ch := name[i]; {
		case ch >= 'A' && ch <= 'Z':
			local = append(local, ch+'a'-'A')
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			local = append(local, ch)
		case ch == ' ':
			local = append(local, '.')
		}
	}
	return fmt.Sprintf("%s%d@example.com", local, n)
}

// Hospital returns a hospital registration with the given pin.
func (g *DataGenerator) Hospital(pin string) directory.RegisterFacilityRequest {
	name := g.pick(hospitalNames) + " " + g.pick(hospitalKinds)
	return directory.RegisterFacilityRequest{
		Name:    name,
		Address: g.address(),
		Phone:   g.Phone(),
		Email:   emailFor(name, g.counter),
		Pin:     pin,
	}
}

// MedicalStore returns a store registration with the given pin.
func (g *DataGenerator) MedicalStore(pin string) directory.RegisterFacilityRequest {
	name := g.pick(storeNames) + " " + g.pick(storeKinds)
	return directory.RegisterFacilityRequest{
		Name:    name,
		Address: g.address(),
		Phone:   g.Phone(),
		Email:   emailFor(name, g.counter),
		Pin:     pin,
	}
}

// Doctor returns a doctor registration under the hospital identified by code
// and name.
func (g *DataGenerator) Doctor(hospitalCode, hospitalName string) directory.RegisterDoctorRequest {
	name := "Dr. " + g.personName()
	return directory.RegisterDoctorRequest{
		Name:         name,
		Specialty:    g.pick(specialties),
		Phone:        g.Phone(),
		Email:        emailFor(name, g.counter),
		HospitalCode: hospitalCode,
		HospitalName: hospitalName,
	}
}

// Booking returns a booking request for the doctor at slot.
func (g *DataGenerator) Booking(doctorID, hospitalID, slot, patientName string) appointment.BookRequest {
	n := 1 + g.rng.Intn(2)
	symptoms := make([]string, 0, n)
	for i := 0; i < n; i++ {
		symptoms = append(symptoms, g.pick(symptomPool))
	}
	return appointment.BookRequest{
		DoctorID:     doctorID,
		HospitalID:   hospitalID,
		Time:         slot,
		VisitType:    g.pick(visitTypes),
		Symptoms:     symptoms,
		ContactEmail: emailFor(patientName, g.counter),
		ContactPhone: g.Phone(),
	}
}

// Order returns an order of one to three medicines from the store.
func (g *DataGenerator) Order(storeID, patientName string) order.PlaceRequest {
	n := 1 + g.rng.Intn(3)
	items := make([]order.Item, 0, n)
	for _, idx := range g.rng.Perm(len(medicines))[:n] {
		item := medicines[idx]
		item.Quantity = 1 + g.rng.Intn(3)
		items = append(items, item)
	}
	return order.PlaceRequest{
		StoreID:         storeID,
		Items:           items,
		DeliveryAddress: g.address(),
		ContactEmail:    emailFor(patientName, g.counter),
		ContactPhone:    g.Phone(),
	}
}
