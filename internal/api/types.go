package api

import (
	"strings"
	"time"

	"github.com/hackgods/kiosk-booking/internal/appointment"
)

type SendOTPRequest struct {
	Mobile      string `json:"mobile" validate:"required,max=32"`
	CountryCode string `json:"countryCode" validate:"max=8"`
}

type SendOTPResponse struct {
	OTPSessionID    string `json:"otpSessionId"`
	NormalizedPhone string `json:"normalizedPhone"`
}

type VerifyOTPRequest struct {
	Mobile       string `json:"mobile" validate:"required,max=32"`
	CountryCode  string `json:"countryCode" validate:"max=8"`
	Code         string `json:"code" validate:"required,max=12"`
	OTPSessionID string `json:"otpSessionId"`
}

type VerifyOTPResponse struct {
	PatientID       string `json:"patientId"`
	NormalizedPhone string `json:"normalizedPhone"`
}

type SetSessionRequest struct {
	PatientID string `json:"patientId" validate:"required,min=6"`
}

type SessionResponse struct {
	OK        bool   `json:"ok,omitempty"`
	PatientID string `json:"patientId,omitempty"`
}

type ContactInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func (c *ContactInput) toContact() *appointment.Contact {
	if c == nil {
		return nil
	}
	return &appointment.Contact{Name: c.Name, Phone: c.Phone, Email: c.Email}
}

type DetailsInput struct {
	DateISO          string `json:"dateISO" validate:"required,dateiso"`
	TimeSlot         string `json:"timeSlot" validate:"required,max=32"`
	ClinicName       string `json:"clinicName"`
	Specialty        string `json:"specialty"`
	DoctorID         string `json:"doctorId" validate:"required,max=64"`
	DoctorName       string `json:"doctorName"`
	ConsultationType string `json:"consultationType"`
	AppointmentType  string `json:"appointmentType"`
}

type BookRequest struct {
	PatientID          string        `json:"patientId" validate:"required,min=6"`
	Contact            *ContactInput `json:"contact"`
	AppointmentDetails DetailsInput  `json:"appointment_details"`
	Source             string        `json:"source"`
}

// trim strips the fields that feed slot keys before they are validated.
func (r *BookRequest) trim() {
	r.PatientID = strings.TrimSpace(r.PatientID)
	d := &r.AppointmentDetails
	d.DateISO = strings.TrimSpace(d.DateISO)
	d.TimeSlot = strings.TrimSpace(d.TimeSlot)
	d.DoctorID = strings.TrimSpace(d.DoctorID)
}

type BatchDetailsInput struct {
	DateISO          string   `json:"dateISO" validate:"required,dateiso"`
	ClinicName       string   `json:"clinicName"`
	Specialty        string   `json:"specialty"`
	DoctorID         string   `json:"doctorId" validate:"required,max=64"`
	DoctorName       string   `json:"doctorName"`
	ConsultationType string   `json:"consultationType"`
	AppointmentType  string   `json:"appointmentType"`
	Symptoms         string   `json:"symptoms"`
	Fee              string   `json:"fee"`
	Languages        []string `json:"languages"`
}

type BookBatchRequest struct {
	PatientID          string            `json:"patientId" validate:"required,min=6"`
	Contact            *ContactInput     `json:"contact"`
	AppointmentDetails BatchDetailsInput `json:"appointment_details"`
	TimeSlots          []string          `json:"timeSlots" validate:"min=1,max=12,distinct_times,dive,required,max=32"`
	Source             string            `json:"source"`
}

func (r *BookBatchRequest) trim() {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.AppointmentDetails.DateISO = strings.TrimSpace(r.AppointmentDetails.DateISO)
	r.AppointmentDetails.DoctorID = strings.TrimSpace(r.AppointmentDetails.DoctorID)
	for i, t := range r.TimeSlots {
		r.TimeSlots[i] = strings.TrimSpace(t)
	}
}

type BookingResponse struct {
	PatientID     string    `json:"patientId"`
	AppointmentID string    `json:"appointmentId"`
	CreatedAt     time.Time `json:"createdAt"`
	RecordType    string    `json:"recordType"`
	ArchiveKey    string    `json:"archiveKey,omitempty"`
}

type BatchItemResponse struct {
	PatientID     string    `json:"patientId"`
	AppointmentID string    `json:"appointmentId"`
	CreatedAt     time.Time `json:"createdAt"`
	TimeSlot      string    `json:"timeSlot"`
}

type BatchResponse struct {
	Appointments []BatchItemResponse `json:"appointments"`
}

type BatchConflictResponse struct {
	Error     string   `json:"error"`
	Conflicts []string `json:"conflicts"`
}

type AvailabilityResponse struct {
	ResourceKey string   `json:"resourceKey"`
	Date        string   `json:"date"`
	Booked      []string `json:"booked"`
}

type AttachRequest struct {
	PatientID     string               `json:"patientId" validate:"required,min=6"`
	AppointmentID string               `json:"appointmentId" validate:"required"`
	Kiosk         appointment.Metadata `json:"kiosk"`
}

type AttachResponse struct {
	OK            bool                 `json:"ok"`
	PatientID     string               `json:"patientId"`
	AppointmentID string               `json:"appointmentId"`
	Kiosk         appointment.Metadata `json:"kiosk"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

type WalkinRequest struct {
	Mobile       string `json:"mobile" validate:"required,max=32"`
	CountryCode  string `json:"countryCode" validate:"max=8"`
	Name         string `json:"name" validate:"required,max=128"`
	YearOfBirth  string `json:"yearOfBirth" validate:"max=4"`
	Gender       string `json:"gender" validate:"max=16"`
	HasCaregiver bool   `json:"hasCaregiver"`
}

type WalkinResponse struct {
	PatientID       string `json:"patientId"`
	Created         bool   `json:"created"`
	KioskVisitID    string `json:"kioskVisitId"`
	NormalizedPhone string `json:"normalizedPhone"`
}

type CreateOrderRequest struct {
	InvoiceID string            `json:"invoice_id" validate:"required,min=3"`
	Amount    int64             `json:"amount" validate:"gt=0"`
	Notes     map[string]string `json:"notes"`
}

type CreateOrderResponse struct {
	KeyID     string         `json:"key_id"`
	OrderID   string         `json:"order_id"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	InvoiceID string         `json:"invoice_id"`
	Notes     map[string]any `json:"notes"`
}

type VerifyPaymentRequest struct {
	InvoiceID string `json:"invoice_id"`
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

type VerifyPaymentResponse struct {
	OK        bool   `json:"ok"`
	InvoiceID string `json:"invoice_id"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
