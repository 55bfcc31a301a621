package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrValidation          = errors.New("invalid booking request")
	ErrSlotConflict        = errors.New("selected time slot is no longer available")
	ErrBookingWriteFailed  = errors.New("could not write appointment")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// BatchSlotConflictError reports a batch that lost at least one slot. The
// underlying transaction does not say which, so Conflicts holds every
// requested time.
type BatchSlotConflictError struct {
	Conflicts []string
}

func (e *BatchSlotConflictError) Error() string {
	return "one or more selected slots are no longer available"
}

func (e *BatchSlotConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

// EventLog is an append-only audit entry for one appointment.
type EventLog struct {
	EventType     string         `json:"eventType"`
	AppointmentID string         `json:"appointmentId"`
	PatientID     string         `json:"patientId"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	// LockSlot claims the slot; ErrSlotConflict when it is already held.
	LockSlot(ctx context.Context, lock Lock) error
	ReleaseSlot(ctx context.Context, resourceKey, slotKey string) error
	GetLock(ctx context.Context, resourceKey, slotKey string) (*Lock, error)

	CreateRecord(ctx context.Context, rec Record) error
	// CreateBatch writes every lock and record or none of them.
	CreateBatch(ctx context.Context, locks []Lock, recs []Record) error

	BookedSlots(ctx context.Context, resourceKey, date string) ([]string, error)

	GetRecord(ctx context.Context, patientID, appointmentID string) (*Record, error)
	ListRecordsByPatient(ctx context.Context, patientID string, limit int) ([]Record, error)
	SetKiosk(ctx context.Context, patientID, appointmentID string, kiosk Metadata, updatedAt time.Time) error
	SetArchiveKey(ctx context.Context, patientID, appointmentID, key string) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
