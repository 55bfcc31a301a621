package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/hackgods/kiosk-booking/internal/store"
)

const (
	LocksTable   = "slot_locks"
	RecordsTable = "appointments"
	EventsTable  = "appointment_events"
)

// ResourceKey names a bookable resource, e.g. "doctor#42".
func ResourceKey(kind, id string) string {
	return kind + "#" + id
}

// SlotKey names one slot of a resource on a given day, e.g. "2025-03-10#09:30".
func SlotKey(date, timeSlot string) string {
	return date + "#" + timeSlot
}

type storeRepository struct {
	st store.Store
}

// NewStoreRepository keeps locks, records and events in a conditional store.
func NewStoreRepository(st store.Store) Repository {
	return &storeRepository{st: st}
}

func lockKey(resourceKey, slotKey string) store.Key {
	return store.Key{Table: LocksTable, PK: resourceKey, SK: slotKey}
}

func recordKey(patientID, appointmentID string) store.Key {
	return store.Key{Table: RecordsTable, PK: patientID, SK: appointmentID}
}

func (r *storeRepository) LockSlot(ctx context.Context, lock Lock) error {
	err := r.st.PutIfAbsent(ctx, store.Item{Key: lockKey(lock.ResourceKey, lock.SlotKey), Value: lock})
	if errors.Is(err, store.ErrPreconditionFailed) {
		return ErrSlotConflict
	}
	if err != nil {
		return fmt.Errorf("put slot lock: %w", err)
	}
	return nil
}

func (r *storeRepository) ReleaseSlot(ctx context.Context, resourceKey, slotKey string) error {
	if err := r.st.Delete(ctx, lockKey(resourceKey, slotKey)); err != nil {
		return fmt.Errorf("delete slot lock: %w", err)
	}
	return nil
}

func (r *storeRepository) GetLock(ctx context.Context, resourceKey, slotKey string) (*Lock, error) {
	var lock Lock
	err := r.st.Get(ctx, lockKey(resourceKey, slotKey), &lock)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot lock: %w", err)
	}
	return &lock, nil
}

func (r *storeRepository) CreateRecord(ctx context.Context, rec Record) error {
	err := r.st.PutIfAbsent(ctx, store.Item{Key: recordKey(rec.PatientID, rec.AppointmentID), Value: rec})
	if err != nil {
		return fmt.Errorf("put appointment record: %w", err)
	}
	return nil
}

func (r *storeRepository) CreateBatch(ctx context.Context, locks []Lock, recs []Record) error {
	items := make([]store.Item, 0, len(locks)+len(recs))
	for i := range locks {
		items = append(items, store.Item{Key: lockKey(locks[i].ResourceKey, locks[i].SlotKey), Value: locks[i]})
		if i < len(recs) {
			items = append(items, store.Item{Key: recordKey(recs[i].PatientID, recs[i].AppointmentID), Value: recs[i]})
		}
	}
	err := r.st.TransactWrite(ctx, items)
	if errors.Is(err, store.ErrPreconditionFailed) {
		return ErrSlotConflict
	}
	if err != nil {
		return fmt.Errorf("transact batch booking: %w", err)
	}
	return nil
}

// BookedSlots returns the sorted, distinct times locked on date.
func (r *storeRepository) BookedSlots(ctx context.Context, resourceKey, date string) ([]string, error) {
	recs, err := r.st.Query(ctx, LocksTable, resourceKey, store.QueryOptions{Prefix: date + "#"})
	if err != nil {
		return nil, fmt.Errorf("query slot locks: %w", err)
	}
	seen := make(map[string]struct{}, len(recs))
	times := make([]string, 0, len(recs))
	for _, rec := range recs {
		_, t, ok := strings.Cut(rec.Key.SK, "#")
		if !ok || t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		times = append(times, t)
	}
	sort.Strings(times)
	return times, nil
}

func (r *storeRepository) GetRecord(ctx context.Context, patientID, appointmentID string) (*Record, error) {
	var rec Record
	err := r.st.Get(ctx, recordKey(patientID, appointmentID), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment record: %w", err)
	}
	return &rec, nil
}

func (r *storeRepository) ListRecordsByPatient(ctx context.Context, patientID string, limit int) ([]Record, error) {
	recs, err := r.st.Query(ctx, RecordsTable, patientID, store.QueryOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query appointment records: %w", err)
	}
	out := make([]Record, 0, len(recs))
	for _, raw := range recs {
		var rec Record
		if err := raw.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode appointment %s: %w", raw.Key.SK, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *storeRepository) SetKiosk(ctx context.Context, patientID, appointmentID string, kiosk Metadata, updatedAt time.Time) error {
	err := r.st.Update(ctx, recordKey(patientID, appointmentID), store.Update{
		Set: map[string]any{"kiosk": kiosk, "updatedAt": updatedAt},
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrAppointmentNotFound
	}
	if err != nil {
		return fmt.Errorf("update appointment kiosk: %w", err)
	}
	return nil
}

func (r *storeRepository) SetArchiveKey(ctx context.Context, patientID, appointmentID, key string) error {
	err := r.st.Update(ctx, recordKey(patientID, appointmentID), store.Update{
		Set: map[string]any{"archiveKey": key},
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrAppointmentNotFound
	}
	if err != nil {
		return fmt.Errorf("update appointment archive key: %w", err)
	}
	return nil
}

func (r *storeRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	id, err := ksuid.NewRandomWithTime(ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("new event id: %w", err)
	}
	err = r.st.Put(ctx, store.Item{
		Key:   store.Key{Table: EventsTable, PK: ev.AppointmentID, SK: id.String()},
		Value: ev,
	})
	if err != nil {
		return fmt.Errorf("put event log: %w", err)
	}
	return nil
}
