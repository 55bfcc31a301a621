// Package walkin registers patients who arrive at the kiosk without an account.
package walkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/identity"
	"github.com/hackgods/kiosk-booking/internal/phone"
	"github.com/hackgods/kiosk-booking/internal/store"
)

const ProfilesTable = "patient_profiles"

var ErrInvalidPhone = errors.New("invalid mobile number")

type Config struct {
	PatientGroup           string
	PlaceholderEmailDomain string
	DefaultCountryCode     string
}

type Request struct {
	Mobile       string
	CountryCode  string
	Name         string
	YearOfBirth  string
	Gender       string
	HasCaregiver bool
}

type Registration struct {
	PatientID       string
	Created         bool
	KioskVisitID    string
	NormalizedPhone string
}

// Profile is the kiosk's own copy of the patient's demographics.
type Profile struct {
	PatientID    string    `json:"patientId"`
	Mobile       string    `json:"mobile"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	FullName     string    `json:"fullName"`
	YearOfBirth  string    `json:"yearOfBirth"`
	Gender       string    `json:"gender"`
	HasCaregiver bool      `json:"hasCaregiver"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func profileKey(patientID string) store.Key {
	return store.Key{Table: ProfilesTable, PK: patientID, SK: "profile"}
}

type Service struct {
	dir      identity.Directory
	resolver *identity.Resolver
	store    store.Store
	clock    clockwork.Clock
	logger   *zap.Logger
	cfg      Config
}

func NewService(dir identity.Directory, st store.Store, clock clockwork.Clock, logger *zap.Logger, cfg Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PatientGroup == "" {
		cfg.PatientGroup = "Patients"
	}
	if cfg.PlaceholderEmailDomain == "" {
		cfg.PlaceholderEmailDomain = "noemail.medmitra"
	}
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = phone.DefaultCountryCode
	}
	return &Service{
		dir:      dir,
		resolver: identity.NewResolver(dir, false, logger),
		store:    st,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

// Register finds the directory user for the phone, creating one when none
// exists, and records the kiosk profile.
func (s *Service) Register(ctx context.Context, req Request) (Registration, error) {
	cc := req.CountryCode
	if cc == "" {
		cc = s.cfg.DefaultCountryCode
	}
	e164 := phone.Normalize(req.Mobile, cc)
	digits := phone.Digits(e164)
	if len(digits) < 10 {
		return Registration{}, ErrInvalidPhone
	}

	created := false
	user, err := s.resolver.Resolve(ctx, e164)
	if errors.Is(err, identity.ErrNotFound) {
		user, created, err = s.create(ctx, e164, digits, req.Name)
	}
	if err != nil {
		return Registration{}, err
	}

	if err := s.saveProfile(ctx, user.Sub, e164, req); err != nil {
		return Registration{}, err
	}

	s.logger.Info("walk-in registered",
		zap.String("patient_id", user.Sub), zap.String("phone", e164), zap.Bool("created", created))
	return Registration{
		PatientID:       user.Sub,
		Created:         created,
		KioskVisitID:    uuid.NewString(),
		NormalizedPhone: e164,
	}, nil
}

func (s *Service) create(ctx context.Context, e164, digits, name string) (identity.User, bool, error) {
	username := digits + "@" + s.cfg.PlaceholderEmailDomain
	user, err := s.dir.CreateUser(ctx, username, identity.Attributes{Phone: e164, Name: name})
	if errors.Is(err, identity.ErrUserExists) {
		// Lost a race with another kiosk registering the same phone.
		user, err = s.resolver.Resolve(ctx, e164)
		if err != nil {
			return identity.User{}, false, fmt.Errorf("resolve after create conflict: %w", err)
		}
		return user, false, nil
	}
	if err != nil {
		return identity.User{}, false, fmt.Errorf("create directory user: %w", err)
	}
	if err := s.dir.AddToGroup(ctx, username, s.cfg.PatientGroup); err != nil {
		return identity.User{}, false, fmt.Errorf("add %s to group %s: %w", username, s.cfg.PatientGroup, err)
	}
	if user.Sub == "" {
		user.Sub = user.Username
	}
	return user, true, nil
}

func (s *Service) saveProfile(ctx context.Context, patientID, e164 string, req Request) error {
	now := s.clock.Now().UTC()
	createdAt := now
	var prev Profile
	err := s.store.Get(ctx, profileKey(patientID), &prev)
	switch {
	case err == nil:
		createdAt = prev.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load patient profile: %w", err)
	}

	first, last := splitName(req.Name)
	err = s.store.Put(ctx, store.Item{Key: profileKey(patientID), Value: Profile{
		PatientID:    patientID,
		Mobile:       e164,
		FirstName:    first,
		LastName:     last,
		FullName:     req.Name,
		YearOfBirth:  req.YearOfBirth,
		Gender:       req.Gender,
		HasCaregiver: req.HasCaregiver,
		Source:       "kiosk",
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}})
	if err != nil {
		return fmt.Errorf("store patient profile: %w", err)
	}
	return nil
}

// Profile loads the stored kiosk profile for a patient.
func (s *Service) Profile(ctx context.Context, patientID string) (Profile, error) {
	var p Profile
	if err := s.store.Get(ctx, profileKey(patientID), &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// splitName puts the last word in the last name and the rest in the first.
func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}
