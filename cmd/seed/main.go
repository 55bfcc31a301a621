package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/db"
	"github.com/hackgods/kiosk-booking/internal/identity"
	"github.com/hackgods/kiosk-booking/internal/logger"
	"github.com/hackgods/kiosk-booking/internal/phone"
)

// seed fills the patient directory with fake Indian mobile numbers so the
// kiosk identify flow can be exercised locally.
func main() {
	count := flag.Int("patients", 500, "number of patients to create")
	group := flag.String("group", "Patients", "directory group new patients join")
	verified := flag.Float64("verified", 0.8, "share of patients with a verified phone")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: "info", Dev: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	dir := db.NewDirectory(pool)

	created, skipped, err := seedPatients(context.Background(), dir, faker, *count, *group, *verified, log)
	if err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}
	log.Info("seed complete", zap.Int("created", created), zap.Int("skipped", skipped))
}

func seedPatients(ctx context.Context, dir identity.Directory, faker *gofakeit.Faker, count int, group string, verifiedShare float64, log *zap.Logger) (int, int, error) {
	log.Info("seeding patients", zap.Int("count", count))

	created, skipped := 0, 0
	for i := 0; i < count; i++ {
		// Indian mobiles are ten digits starting 6-9.
		local := faker.Numerify(fmt.Sprintf("%d#########", faker.Number(6, 9)))
		e164 := phone.Normalize(local, phone.DefaultCountryCode)
		username := phone.Digits(e164) + "@noemail.medmitra"

		_, err := dir.CreateUser(ctx, username, identity.Attributes{
			Phone:         e164,
			Name:          faker.Name(),
			PhoneVerified: faker.Float64Range(0, 1) < verifiedShare,
		})
		if errors.Is(err, identity.ErrUserExists) {
			skipped++
			continue
		}
		if err != nil {
			return created, skipped, err
		}
		if err := dir.AddToGroup(ctx, username, group); err != nil {
			return created, skipped, err
		}
		created++

		if created%100 == 0 {
			log.Info("patients seeded", zap.Int("done", created), zap.Int("of", count))
		}
	}
	return created, skipped, nil
}
