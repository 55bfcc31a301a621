package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/api"
	"github.com/hackgods/kiosk-booking/internal/appointment"
	"github.com/hackgods/kiosk-booking/internal/archive"
	"github.com/hackgods/kiosk-booking/internal/billing"
	"github.com/hackgods/kiosk-booking/internal/config"
	"github.com/hackgods/kiosk-booking/internal/db"
	"github.com/hackgods/kiosk-booking/internal/identity"
	"github.com/hackgods/kiosk-booking/internal/logger"
	"github.com/hackgods/kiosk-booking/internal/otp"
	redisclient "github.com/hackgods/kiosk-booking/internal/redis"
	"github.com/hackgods/kiosk-booking/internal/session"
	"github.com/hackgods/kiosk-booking/internal/sms"
	"github.com/hackgods/kiosk-booking/internal/store"
	"github.com/hackgods/kiosk-booking/internal/walkin"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile, MaxAge: cfg.LogMaxAge})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	var (
		st     store.Store
		dir    identity.Directory = identity.NewMemoryDirectory()
		checks []api.Check
	)

	if cfg.PostgresDSN != "" {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		if err == nil {
			err = db.EnsureSchema(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pgPool.Close()
		log.Info("connected to Postgres")

		dir = db.NewDirectory(pgPool)
		if cfg.StoreBackend == config.BackendPostgres {
			st = db.NewKVStore(pgPool, clock)
		}
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: pgPool.Ping})
	} else {
		log.Warn("POSTGRES_DSN not set, patient directory is in-memory")
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

		st = redisclient.NewStore(rdb, clock)
		checks = append(checks, api.Check{Name: "redis", Critical: true, Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	case config.BackendMemory:
		log.Warn("using the in-memory store, data is lost on restart")
		st = store.NewMemoryStore(clock)
	}

	sender, err := sms.New(rootCtx, sms.Config{
		Provider:             cfg.SMSProvider,
		TwilioAccountSID:     cfg.TwilioAccountSID,
		TwilioAuthToken:      cfg.TwilioAuthToken,
		TwilioFromNumber:     cfg.TwilioFromNumber,
		AWSRegion:            cfg.AWSRegion,
		SNSSenderID:          cfg.SNSSenderID,
		SNSOriginationNumber: cfg.SNSOriginationNumber,
		SNSEntityID:          cfg.SNSEntityID,
		SNSTemplateID:        cfg.SNSTemplateID,
		SNSSMSType:           cfg.SNSSMSType,
	}, log)
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}

	codec, err := session.NewCodec(cfg.SessionSecret, cfg.SessionTTL, clock)
	if err != nil {
		return fmt.Errorf("session codec: %w", err)
	}

	otpManager := otp.NewManager(st, identity.NewResolver(dir, cfg.RequireVerified, log), sender, clock, log, otp.Config{
		TTL:                cfg.OTPTTL,
		CodeLength:         cfg.OTPLength,
		ResendCooldown:     cfg.OTPResendCooldown,
		MaxAttempts:        cfg.OTPMaxAttempts,
		Brand:              cfg.SMSBrand,
		DefaultCountryCode: cfg.DefaultCountryCode,
	})

	var archiver appointment.Archiver
	if cfg.S3Bucket != "" {
		s3a, err := archive.NewS3Archiver(rootCtx, cfg.AWSRegion, cfg.S3Bucket)
		if err != nil {
			return fmt.Errorf("s3 archiver: %w", err)
		}
		archiver = s3a
		log.Info("appointment archival enabled", zap.String("bucket", cfg.S3Bucket))
	}

	appointments := appointment.NewService(appointment.NewStoreRepository(st), archiver, clock, log, appointment.Config{
		ArchivePrefix: cfg.S3PrefixAppts,
	})

	walkins := walkin.NewService(dir, st, clock, log, walkin.Config{
		PatientGroup:           cfg.PatientGroup,
		PlaceholderEmailDomain: cfg.PlaceholderMail,
		DefaultCountryCode:     cfg.DefaultCountryCode,
	})

	var billingSvc *billing.Service
	if cfg.BillingEnabled() {
		billingSvc = billing.NewService(st, billing.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret), clock, log, billing.Config{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
			Currency:      cfg.RazorpayCurrency,
			AutoCapture:   cfg.RazorpayAutoCapture,
		})
	}

	handler := api.NewRouter(api.RouterConfig{
		OTP:      otpManager,
		Sessions: codec,
		Cookie: api.CookieConfig{
			Name:     cfg.CookieName,
			Domain:   cfg.CookieDomain,
			Secure:   cfg.CookieSecure,
			SameSite: api.ParseSameSite(cfg.CookieSameSite),
		},
		Appointments:   appointments,
		Walkins:        walkins,
		Billing:        billingSvc,
		Checks:         checks,
		CORSOrigins:    cfg.CORSOrigins,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
	appointments.Wait()
	log.Info("api-server stopped")
	return nil
}
