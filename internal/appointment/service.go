package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	EventAppointmentBooked = "APPOINTMENT_BOOKED"
	EventSlotReleased      = "SLOT_LOCK_RELEASED"
	EventKioskAttached     = "KIOSK_ATTACHED"
)

const dateLayout = "2006-01-02"

// Archiver stores a JSON copy of a booked record outside the primary store.
type Archiver interface {
	PutJSON(ctx context.Context, key string, v any) error
}

type Config struct {
	// ArchivePrefix is the leading path of archive keys; empty disables archival.
	ArchivePrefix       string
	CompensationTimeout time.Duration
}

// SideEffect is the outcome of work done after a booking has already been
// decided. It is logged and never changes the caller's result.
type SideEffect struct {
	Name          string
	AppointmentID string
	Target        string
	Err           error
}

type Service struct {
	repo     Repository
	archiver Archiver
	clock    clockwork.Clock
	logger   *zap.Logger
	cfg      Config
	newID    func() string
	pending  sync.WaitGroup
}

func NewService(repo Repository, archiver Archiver, clock clockwork.Clock, logger *zap.Logger, cfg Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 5 * time.Second
	}
	return &Service{
		repo:     repo,
		archiver: archiver,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		newID:    uuid.NewString,
	}
}

// Book reserves one slot and writes its appointment record. A slot that is
// already held yields ErrSlotConflict. If the record cannot be written the
// lock is released in the background and ErrBookingWriteFailed is returned.
func (s *Service) Book(ctx context.Context, req BookRequest) (Booking, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Details = req.Details.canonical()
	req.Kind, req.ResourceID = resolveResource(req.Kind, req.ResourceID, req.Details)
	if err := validateBase(req.PatientID, req.Kind, req.ResourceID, req.Details.DateISO); err != nil {
		return Booking{}, err
	}
	if err := validateTime(req.Details.TimeSlot); err != nil {
		return Booking{}, err
	}

	now := s.clock.Now().UTC()
	appointmentID := s.newID()
	lock := Lock{
		ResourceKey:   ResourceKey(req.Kind, req.ResourceID),
		SlotKey:       SlotKey(req.Details.DateISO, req.Details.TimeSlot),
		PatientID:     req.PatientID,
		AppointmentID: appointmentID,
		CreatedAt:     now,
	}
	if err := s.repo.LockSlot(ctx, lock); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.logger.Info("slot already held",
				zap.String("resource", lock.ResourceKey), zap.String("slot", lock.SlotKey))
		}
		return Booking{}, err
	}

	rec := newRecord(req.PatientID, appointmentID, req.Kind, req.Source, req.Contact, req.Details, now)
	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		s.compensate(ctx, lock)
		return Booking{}, fmt.Errorf("%w: %w", ErrBookingWriteFailed, err)
	}

	archiveKey := s.archive(ctx, rec)
	s.logEvent(ctx, rec, EventAppointmentBooked, map[string]any{
		"resourceKey": lock.ResourceKey,
		"slotKey":     lock.SlotKey,
	})

	return Booking{
		PatientID:     rec.PatientID,
		AppointmentID: rec.AppointmentID,
		CreatedAt:     rec.CreatedAt,
		RecordType:    rec.RecordType,
		TimeSlot:      rec.Details.TimeSlot,
		ArchiveKey:    archiveKey,
	}, nil
}

// BookBatch reserves every requested time for one resource and day or none
// of them. A lost slot yields *BatchSlotConflictError.
func (s *Service) BookBatch(ctx context.Context, req BatchRequest) ([]Booking, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Details = req.Details.canonical()
	req.Kind, req.ResourceID = resolveResource(req.Kind, req.ResourceID, req.Details)
	if err := validateBase(req.PatientID, req.Kind, req.ResourceID, req.Details.DateISO); err != nil {
		return nil, err
	}
	if n := len(req.TimeSlots); n < 1 || n > MaxBatchSlots {
		return nil, fmt.Errorf("%w: between 1 and %d time slots are required, got %d", ErrValidation, MaxBatchSlots, n)
	}
	times := make([]string, len(req.TimeSlots))
	for i, t := range req.TimeSlots {
		times[i] = strings.TrimSpace(t)
	}
	req.TimeSlots = times
	seen := make(map[string]struct{}, len(req.TimeSlots))
	for _, t := range req.TimeSlots {
		if err := validateTime(t); err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("%w: time slot %q requested twice", ErrValidation, t)
		}
		seen[t] = struct{}{}
	}

	now := s.clock.Now().UTC()
	resourceKey := ResourceKey(req.Kind, req.ResourceID)
	locks := make([]Lock, 0, len(req.TimeSlots))
	recs := make([]Record, 0, len(req.TimeSlots))
	for _, t := range req.TimeSlots {
		appointmentID := s.newID()
		details := req.Details
		details.TimeSlot = t
		locks = append(locks, Lock{
			ResourceKey:   resourceKey,
			SlotKey:       SlotKey(req.Details.DateISO, t),
			PatientID:     req.PatientID,
			AppointmentID: appointmentID,
			CreatedAt:     now,
		})
		recs = append(recs, newRecord(req.PatientID, appointmentID, req.Kind, req.Source, req.Contact, details, now))
	}

	if err := s.repo.CreateBatch(ctx, locks, recs); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.logger.Info("batch lost a slot",
				zap.String("resource", resourceKey), zap.Strings("times", req.TimeSlots))
			return nil, &BatchSlotConflictError{Conflicts: append([]string(nil), req.TimeSlots...)}
		}
		return nil, err
	}

	out := make([]Booking, 0, len(recs))
	for i, rec := range recs {
		archiveKey := s.archive(ctx, rec)
		s.logEvent(ctx, rec, EventAppointmentBooked, map[string]any{
			"resourceKey": resourceKey,
			"slotKey":     locks[i].SlotKey,
			"batch":       true,
		})
		out = append(out, Booking{
			PatientID:     rec.PatientID,
			AppointmentID: rec.AppointmentID,
			CreatedAt:     rec.CreatedAt,
			RecordType:    rec.RecordType,
			TimeSlot:      rec.Details.TimeSlot,
			ArchiveKey:    archiveKey,
		})
	}
	return out, nil
}

// Availability lists the times already booked for a resource on date.
func (s *Service) Availability(ctx context.Context, kind, resourceID, date string) (Availability, error) {
	kind, resourceID, date = strings.TrimSpace(kind), strings.TrimSpace(resourceID), strings.TrimSpace(date)
	if kind == "" {
		kind = KindDoctor
	}
	if err := validateResource(kind, resourceID); err != nil {
		return Availability{}, err
	}
	if err := validateDate(date); err != nil {
		return Availability{}, err
	}
	resourceKey := ResourceKey(kind, resourceID)
	booked, err := s.repo.BookedSlots(ctx, resourceKey, date)
	if err != nil {
		return Availability{}, err
	}
	return Availability{ResourceKey: resourceKey, Date: date, Booked: booked}, nil
}

// AttachKiosk shallow-merges kiosk into the record's kiosk metadata.
func (s *Service) AttachKiosk(ctx context.Context, patientID, appointmentID string, kiosk Metadata) (AttachResult, error) {
	if patientID == "" || appointmentID == "" {
		return AttachResult{}, fmt.Errorf("%w: patientId and appointmentId are required", ErrValidation)
	}
	rec, err := s.repo.GetRecord(ctx, patientID, appointmentID)
	if err != nil {
		return AttachResult{}, err
	}

	now := s.clock.Now().UTC()
	stamp := String(now.Format(time.RFC3339))
	incoming := Metadata{}.Merge(kiosk)
	if !incoming.Has("source") {
		incoming["source"] = String(SourceKiosk)
	}
	incoming["updatedAt"] = stamp
	if !rec.Kiosk.Has("createdAt") && !incoming.Has("createdAt") {
		incoming["createdAt"] = stamp
	}
	merged := rec.Kiosk.Merge(incoming)

	if err := s.repo.SetKiosk(ctx, patientID, appointmentID, merged, now); err != nil {
		return AttachResult{}, err
	}
	s.logEvent(ctx, *rec, EventKioskAttached, nil)

	return AttachResult{
		PatientID:     patientID,
		AppointmentID: appointmentID,
		Kiosk:         merged,
		UpdatedAt:     now,
	}, nil
}

// Get retrieves one appointment record.
func (s *Service) Get(ctx context.Context, patientID, appointmentID string) (*Record, error) {
	return s.repo.GetRecord(ctx, patientID, appointmentID)
}

// ListByPatient retrieves a patient's appointments in id order.
func (s *Service) ListByPatient(ctx context.Context, patientID string, limit int) ([]Record, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListRecordsByPatient(ctx, patientID, limit)
}

// Wait blocks until background lock releases have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// compensate releases a lock whose record write failed. It runs detached
// from ctx so a cancelled request still frees the slot.
func (s *Service) compensate(ctx context.Context, lock Lock) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
		defer cancel()

		err := s.repo.ReleaseSlot(cctx, lock.ResourceKey, lock.SlotKey)
		s.settle(SideEffect{
			Name:          "release_slot_lock",
			AppointmentID: lock.AppointmentID,
			Target:        lock.ResourceKey + "/" + lock.SlotKey,
			Err:           err,
		})
		if err == nil {
			s.logEvent(cctx, Record{PatientID: lock.PatientID, AppointmentID: lock.AppointmentID}, EventSlotReleased, map[string]any{
				"resourceKey": lock.ResourceKey,
				"slotKey":     lock.SlotKey,
			})
		}
	}()
}

// archive copies rec to the archiver and returns its key, or "" if archival
// is disabled or failed.
func (s *Service) archive(ctx context.Context, rec Record) string {
	if s.archiver == nil || s.cfg.ArchivePrefix == "" {
		return ""
	}
	key := fmt.Sprintf("%s/%s/%s.json", strings.Trim(s.cfg.ArchivePrefix, "/"), rec.PatientID, rec.AppointmentID)
	rec.ArchiveKey = key

	err := s.archiver.PutJSON(ctx, key, rec)
	s.settle(SideEffect{Name: "archive_record", AppointmentID: rec.AppointmentID, Target: key, Err: err})
	if err != nil {
		return ""
	}

	err = s.repo.SetArchiveKey(ctx, rec.PatientID, rec.AppointmentID, key)
	s.settle(SideEffect{Name: "record_archive_key", AppointmentID: rec.AppointmentID, Target: key, Err: err})
	return key
}

func (s *Service) settle(e SideEffect) {
	if e.Err != nil {
		s.logger.Warn("side effect failed",
			zap.String("effect", e.Name),
			zap.String("appointment_id", e.AppointmentID),
			zap.String("target", e.Target),
			zap.Error(e.Err))
		return
	}
	s.logger.Debug("side effect done",
		zap.String("effect", e.Name),
		zap.String("appointment_id", e.AppointmentID),
		zap.String("target", e.Target))
}

func (s *Service) logEvent(ctx context.Context, rec Record, eventType string, payload map[string]any) {
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: rec.AppointmentID,
		PatientID:     rec.PatientID,
		Payload:       payload,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", rec.AppointmentID),
			zap.Error(err))
	}
}

func newRecord(patientID, appointmentID, kind, source string, contact *Contact, d Details, now time.Time) Record {
	if source == "" {
		source = SourceKiosk
	}
	if d.ConsultationType == "" {
		d.ConsultationType = "in-person"
	}
	if d.AppointmentType == "" {
		d.AppointmentType = "walkin"
	}
	return Record{
		PatientID:     patientID,
		AppointmentID: appointmentID,
		CreatedAt:     now,
		RecordType:    kind,
		Status:        StatusBooked,
		Source:        source,
		Contact:       contact,
		Details:       d,
		DoctorID:      d.DoctorID,
		DateKey:       SlotKey(d.DateISO, d.TimeSlot),
	}
}

// resolveResource trims kind and id so padded input maps to the same lock.
func resolveResource(kind, resourceID string, d Details) (string, string) {
	kind, resourceID = strings.TrimSpace(kind), strings.TrimSpace(resourceID)
	if kind == "" {
		kind = KindDoctor
	}
	if resourceID == "" && kind == KindDoctor {
		resourceID = d.DoctorID
	}
	return kind, resourceID
}

func validateBase(patientID, kind, resourceID, date string) error {
	if patientID == "" {
		return fmt.Errorf("%w: patientId is required", ErrValidation)
	}
	if err := validateResource(kind, resourceID); err != nil {
		return err
	}
	return validateDate(date)
}

func validateResource(kind, resourceID string) error {
	if kind != KindDoctor && kind != KindLab {
		return fmt.Errorf("%w: resource type must be %q or %q", ErrValidation, KindDoctor, KindLab)
	}
	if resourceID == "" || strings.Contains(resourceID, "#") {
		return fmt.Errorf("%w: resource id is required and must not contain '#'", ErrValidation)
	}
	return nil
}

// validateDate accepts only a calendar date; anything carrying a time part
// such as "2025-03-10T09:30" is rejected.
func validateDate(date string) error {
	if len(date) != len(dateLayout) {
		return fmt.Errorf("%w: dateISO must be 'YYYY-MM-DD'", ErrValidation)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: dateISO must be 'YYYY-MM-DD'", ErrValidation)
	}
	return nil
}

func validateTime(t string) error {
	if t == "" || strings.Contains(t, "#") {
		return fmt.Errorf("%w: time slot is required and must not contain '#'", ErrValidation)
	}
	return nil
}
