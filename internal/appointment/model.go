package appointment

import (
	"strings"
	"time"
)

const (
	StatusBooked = "BOOKED"

	KindDoctor = "doctor"
	KindLab    = "lab"

	SourceKiosk = "kiosk"

	MaxBatchSlots = 12
)

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Details is the descriptive part of a booking as shown to clinic staff.
type Details struct {
	DateISO          string   `json:"dateISO"`
	TimeSlot         string   `json:"timeSlot,omitempty"`
	ClinicName       string   `json:"clinicName"`
	Specialty        string   `json:"specialty"`
	DoctorID         string   `json:"doctorId"`
	DoctorName       string   `json:"doctorName"`
	ConsultationType string   `json:"consultationType"`
	AppointmentType  string   `json:"appointmentType"`
	Symptoms         string   `json:"symptoms,omitempty"`
	Fee              string   `json:"fee,omitempty"`
	Languages        []string `json:"languages,omitempty"`
}

// canonical strips the whitespace around the fields that make up slot keys.
func (d Details) canonical() Details {
	d.DateISO = strings.TrimSpace(d.DateISO)
	d.TimeSlot = strings.TrimSpace(d.TimeSlot)
	d.DoctorID = strings.TrimSpace(d.DoctorID)
	return d
}

// Lock marks one (resource, date, time) slot as taken.
type Lock struct {
	ResourceKey   string    `json:"resourceKey"`
	SlotKey       string    `json:"slotKey"`
	PatientID     string    `json:"patientId"`
	AppointmentID string    `json:"appointmentId"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Record struct {
	PatientID     string     `json:"patientId"`
	AppointmentID string     `json:"appointmentId"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	RecordType    string     `json:"recordType"`
	Status        string     `json:"status"`
	Source        string     `json:"source"`
	Contact       *Contact   `json:"contact"`
	Details       Details    `json:"appointment_details"`
	DoctorID      string     `json:"doctorId"`
	DateKey       string     `json:"dateKey"`
	ArchiveKey    string     `json:"archiveKey,omitempty"`
	Kiosk         Metadata   `json:"kiosk,omitempty"`
}

type BookRequest struct {
	PatientID  string
	Kind       string // defaults to doctor
	ResourceID string // defaults to Details.DoctorID
	Details    Details
	Contact    *Contact
	Source     string
}

type BatchRequest struct {
	PatientID  string
	Kind       string
	ResourceID string
	Details    Details
	TimeSlots  []string
	Contact    *Contact
	Source     string
}

type Booking struct {
	PatientID     string
	AppointmentID string
	CreatedAt     time.Time
	RecordType    string
	TimeSlot      string
	ArchiveKey    string
}

type Availability struct {
	ResourceKey string
	Date        string
	Booked      []string
}

type AttachResult struct {
	PatientID     string
	AppointmentID string
	Kiosk         Metadata
	UpdatedAt     time.Time
}
