package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/kiosk-booking/internal/store"
)

type fixture struct {
	svc   *Service
	repo  Repository
	st    *store.MemoryStore
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, wrap func(Repository) Repository, archiver Archiver) fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore(clock)
	repo := NewStoreRepository(st)
	if wrap != nil {
		repo = wrap(repo)
	}
	svc := NewService(repo, archiver, clock, nil, Config{ArchivePrefix: "appointments"})
	return fixture{svc: svc, repo: repo, st: st, clock: clock}
}

func doctor42(patientID, timeSlot string) BookRequest {
	return BookRequest{
		PatientID: patientID,
		Details: Details{
			DateISO:    "2025-03-10",
			TimeSlot:   timeSlot,
			ClinicName: "Sunrise Clinic",
			Specialty:  "cardiology",
			DoctorID:   "42",
			DoctorName: "Dr. Rao",
		},
		Contact: &Contact{Name: "Asha", Phone: "+919876543210"},
	}
}

type failingRecords struct {
	Repository
	err error
}

func (f failingRecords) CreateRecord(ctx context.Context, rec Record) error {
	return f.err
}

type stuckRelease struct {
	failingRecords
}

func (stuckRelease) ReleaseSlot(ctx context.Context, resourceKey, slotKey string) error {
	return errors.New("release timed out")
}

type recordingArchiver struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *recordingArchiver) PutJSON(ctx context.Context, key string, v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.keys = append(a.keys, key)
	return nil
}

func TestBookThenConflict(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	b, err := f.svc.Book(ctx, doctor42("patient-001", "09:30"))
	require.NoError(t, err)
	assert.NotEmpty(t, b.AppointmentID)
	assert.Equal(t, "doctor", b.RecordType)
	assert.Equal(t, "patient-001", b.PatientID)

	lock, err := f.repo.GetLock(ctx, "doctor#42", "2025-03-10#09:30")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, b.AppointmentID, lock.AppointmentID)

	rec, err := f.svc.Get(ctx, "patient-001", b.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, rec.Status)
	assert.Equal(t, SourceKiosk, rec.Source)
	assert.Equal(t, "in-person", rec.Details.ConsultationType)
	assert.Equal(t, "walkin", rec.Details.AppointmentType)
	assert.Equal(t, "2025-03-10#09:30", rec.DateKey)
	assert.Equal(t, "42", rec.DoctorID)

	_, err = f.svc.Book(ctx, doctor42("patient-002", "09:30"))
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Equal(t, 1, f.st.Len(RecordsTable))
}

func TestConcurrentBookHasOneWinner(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	const patients = 20
	var wg sync.WaitGroup
	errs := make(chan error, patients)
	for i := 0; i < patients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(ctx, doctor42(fmt.Sprintf("patient-%03d", i), "11:00"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotConflict)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.st.Len(LocksTable))
	assert.Equal(t, 1, f.st.Len(RecordsTable))
}

func TestBookReleasesLockWhenRecordWriteFails(t *testing.T) {
	f := newFixture(t, func(r Repository) Repository {
		return failingRecords{Repository: r, err: errors.New("throttled")}
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.svc.Book(ctx, doctor42("patient-001", "09:30"))
	assert.ErrorIs(t, err, ErrBookingWriteFailed)
	assert.NotErrorIs(t, err, ErrSlotConflict)

	// A cancelled request must not stop the release.
	cancel()
	f.svc.Wait()

	lock, err := f.repo.GetLock(context.Background(), "doctor#42", "2025-03-10#09:30")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestBookKeepsOrphanLockWhenReleaseFails(t *testing.T) {
	writeErr := errors.New("throttled")
	f := newFixture(t, func(r Repository) Repository {
		return stuckRelease{failingRecords{Repository: r, err: writeErr}}
	}, nil)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, doctor42("patient-001", "09:30"))
	assert.ErrorIs(t, err, ErrBookingWriteFailed)
	assert.ErrorIs(t, err, writeErr)
	assert.NotContains(t, err.Error(), "release timed out")

	f.svc.Wait()

	lock, err := f.repo.GetLock(ctx, "doctor#42", "2025-03-10#09:30")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "patient-001", lock.PatientID)
	assert.Equal(t, 0, f.st.Len(RecordsTable))

	_, err = f.svc.Book(ctx, doctor42("patient-002", "09:30"))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestBookTrimsSlotInputs(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	b, err := f.svc.Book(ctx, doctor42(" patient-001 ", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, "patient-001", b.PatientID)

	_, err = f.svc.Book(ctx, doctor42("patient-002", " 09:30"))
	assert.ErrorIs(t, err, ErrSlotConflict)

	padded := doctor42("patient-003", "09:30\t")
	padded.Details.DoctorID = " 42"
	padded.Details.DateISO = "2025-03-10 "
	_, err = f.svc.Book(ctx, padded)
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = f.svc.BookBatch(ctx, batch("patient-004", "10:00", " 10:00"))
	assert.ErrorIs(t, err, ErrValidation)

	bookings, err := f.svc.BookBatch(ctx, batch("patient-004", " 09:30", "10:00 "))
	var conflict *BatchSlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"09:30", "10:00"}, conflict.Conflicts)
	assert.Nil(t, bookings)

	assert.Equal(t, 1, f.st.Len(LocksTable))
	assert.Equal(t, 1, f.st.Len(RecordsTable))

	rec, err := f.svc.Get(ctx, "patient-001", b.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, "09:30", rec.Details.TimeSlot)
	assert.Equal(t, "2025-03-10#09:30", rec.DateKey)

	avail, err := f.svc.Availability(ctx, "", " 42 ", " 2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:30"}, avail.Booked)
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	cases := map[string]func(*BookRequest){
		"date with time":   func(r *BookRequest) { r.Details.DateISO = "2025-03-10T09:30" },
		"short date":       func(r *BookRequest) { r.Details.DateISO = "2025-3-10" },
		"impossible date":  func(r *BookRequest) { r.Details.DateISO = "2025-02-30" },
		"missing patient":  func(r *BookRequest) { r.PatientID = "" },
		"missing time":     func(r *BookRequest) { r.Details.TimeSlot = "" },
		"missing doctor":   func(r *BookRequest) { r.Details.DoctorID = "" },
		"unknown resource": func(r *BookRequest) { r.Kind = "room" },
		"hash in time":     func(r *BookRequest) { r.Details.TimeSlot = "09#30" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := doctor42("patient-001", "09:30")
			mutate(&req)
			_, err := f.svc.Book(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 0, f.st.Len(LocksTable))
}

func TestBookLabResource(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	req := doctor42("patient-001", "08:00")
	req.Kind = KindLab
	req.ResourceID = "xray-1"
	b, err := f.svc.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, KindLab, b.RecordType)

	avail, err := f.svc.Availability(ctx, KindLab, "xray-1", "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00"}, avail.Booked)

	avail, err = f.svc.Availability(ctx, KindDoctor, "42", "2025-03-10")
	require.NoError(t, err)
	assert.Empty(t, avail.Booked)
}

func batch(patientID string, times ...string) BatchRequest {
	base := doctor42(patientID, "")
	return BatchRequest{
		PatientID: patientID,
		Details:   base.Details,
		TimeSlots: times,
		Contact:   base.Contact,
	}
}

func TestBookBatchAllOrNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, doctor42("patient-002", "10:00"))
	require.NoError(t, err)

	_, err = f.svc.BookBatch(ctx, batch("patient-001", "09:30", "10:00", "10:30"))
	var conflict *BatchSlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Equal(t, []string{"09:30", "10:00", "10:30"}, conflict.Conflicts)

	assert.Equal(t, 1, f.st.Len(LocksTable))
	assert.Equal(t, 1, f.st.Len(RecordsTable))
	for _, slot := range []string{"09:30", "10:30"} {
		lock, err := f.repo.GetLock(ctx, "doctor#42", "2025-03-10#"+slot)
		require.NoError(t, err)
		assert.Nil(t, lock, slot)
	}

	bookings, err := f.svc.BookBatch(ctx, batch("patient-001", "09:30", "10:30"))
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, "09:30", bookings[0].TimeSlot)
	assert.Equal(t, "10:30", bookings[1].TimeSlot)
	assert.NotEqual(t, bookings[0].AppointmentID, bookings[1].AppointmentID)

	recs, err := f.svc.ListByPatient(ctx, "patient-001", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestBookBatchLimits(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.svc.BookBatch(ctx, batch("patient-001"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.BookBatch(ctx, batch("patient-001", "09:00", "09:00"))
	assert.ErrorIs(t, err, ErrValidation)

	thirteen := make([]string, 13)
	for i := range thirteen {
		thirteen[i] = fmt.Sprintf("%02d:00", i+8)
	}
	_, err = f.svc.BookBatch(ctx, batch("patient-001", thirteen...))
	assert.ErrorIs(t, err, ErrValidation)

	req := batch("patient-001", thirteen[:12]...)
	req.Details.DateISO = "2025-03-10T00:00"
	_, err = f.svc.BookBatch(ctx, req)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.st.Len(LocksTable))

	bookings, err := f.svc.BookBatch(ctx, batch("patient-001", thirteen[:12]...))
	require.NoError(t, err)
	assert.Len(t, bookings, 12)
	assert.Equal(t, 12, f.st.Len(LocksTable))
}

func TestAvailabilityListsSortedTimes(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	for _, slot := range []string{"11:00", "09:30", "10:15"} {
		_, err := f.svc.Book(ctx, doctor42("patient-001", slot))
		require.NoError(t, err)
	}
	other := doctor42("patient-001", "08:00")
	other.Details.DateISO = "2025-03-11"
	_, err := f.svc.Book(ctx, other)
	require.NoError(t, err)

	avail, err := f.svc.Availability(ctx, "", "42", "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, "doctor#42", avail.ResourceKey)
	assert.Equal(t, []string{"09:30", "10:15", "11:00"}, avail.Booked)

	_, err = f.svc.Availability(ctx, "doctor", "42", "10-03-2025")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAttachKioskMerges(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	b, err := f.svc.Book(ctx, doctor42("patient-001", "09:30"))
	require.NoError(t, err)

	first, err := f.svc.AttachKiosk(ctx, "patient-001", b.AppointmentID, Metadata{
		"kioskId": String("K-7"),
		"vitals":  Map(Metadata{"bp": String("120/80")}),
	})
	require.NoError(t, err)
	src, _ := first.Kiosk["source"].AsString()
	assert.Equal(t, SourceKiosk, src)
	created, ok := first.Kiosk["createdAt"].AsString()
	require.True(t, ok)

	f.clock.Advance(time.Minute)
	second, err := f.svc.AttachKiosk(ctx, "patient-001", b.AppointmentID, Metadata{
		"queueNo": Number(14),
		"vitals":  Map(Metadata{"pulse": Number(72)}),
	})
	require.NoError(t, err)

	rec, err := f.svc.Get(ctx, "patient-001", b.AppointmentID)
	require.NoError(t, err)
	kiosk, _ := rec.Kiosk["kioskId"].AsString()
	assert.Equal(t, "K-7", kiosk)
	queue, _ := rec.Kiosk["queueNo"].AsNumber()
	assert.Equal(t, float64(14), queue)
	vitals, _ := rec.Kiosk["vitals"].AsMap()
	assert.False(t, vitals.Has("bp"), "nested maps are replaced, not merged")
	assert.True(t, vitals.Has("pulse"))

	stillCreated, _ := rec.Kiosk["createdAt"].AsString()
	assert.Equal(t, created, stillCreated)
	updated, _ := rec.Kiosk["updatedAt"].AsString()
	assert.NotEqual(t, created, updated)
	require.NotNil(t, rec.UpdatedAt)
	assert.True(t, rec.UpdatedAt.Equal(second.UpdatedAt))
}

func TestAttachKioskMissingRecord(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.svc.AttachKiosk(context.Background(), "patient-001", "nope", Metadata{})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestArchiveIsBestEffort(t *testing.T) {
	ok := &recordingArchiver{}
	f := newFixture(t, nil, ok)
	ctx := context.Background()

	b, err := f.svc.Book(ctx, doctor42("patient-001", "09:30"))
	require.NoError(t, err)
	want := "appointments/patient-001/" + b.AppointmentID + ".json"
	assert.Equal(t, want, b.ArchiveKey)
	assert.Equal(t, []string{want}, ok.keys)

	rec, err := f.svc.Get(ctx, "patient-001", b.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, want, rec.ArchiveKey)

	broken := &recordingArchiver{err: errors.New("bucket gone")}
	f = newFixture(t, nil, broken)
	b, err = f.svc.Book(ctx, doctor42("patient-001", "09:30"))
	require.NoError(t, err)
	assert.Empty(t, b.ArchiveKey)
}

func TestMetadataJSON(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x","n":1.5,"b":true,"z":null,"m":{"k":"v"}}`), &m))
	s, _ := m["a"].AsString()
	assert.Equal(t, "x", s)
	assert.Equal(t, KindNull, m["z"].Kind())
	inner, ok := m["m"].AsMap()
	require.True(t, ok)
	v, _ := inner["k"].AsString()
	assert.Equal(t, "v", v)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","n":1.5,"b":true,"z":null,"m":{"k":"v"}}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"tags":["a","b"]}`), &m))
}
