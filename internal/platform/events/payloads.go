package events

// AppointmentPayload is carried by every appointment.* event.
type AppointmentPayload struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	DoctorID       string `json:"doctorId"`
	DoctorName     string `json:"doctorName,omitempty"`
	HospitalID     string `json:"hospitalId"`
	VisitType      string `json:"visitType"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	MeetingLink    string `json:"meetingLink,omitempty"`
	ContactEmail   string `json:"contactEmail,omitempty"`
	ContactPhone   string `json:"contactPhone,omitempty"`
	Medicine       string `json:"medicine,omitempty"`
	Dosage         string `json:"dosage,omitempty"`
	Duration       string `json:"duration,omitempty"`
}

// OrderPayload is carried by every order.* event.
type OrderPayload struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	StoreID        string  `json:"storeId"`
	StoreName      string  `json:"storeName"`
	Total          float64 `json:"total"`
	Status         string  `json:"status"`
	PreviousStatus string  `json:"previousStatus,omitempty"`
	ContactEmail   string  `json:"contactEmail,omitempty"`
	ContactPhone   string  `json:"contactPhone,omitempty"`
}

// DoctorPayload is carried by doctor.* events.
type DoctorPayload struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	HospitalID string `json:"hospitalId"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}
