package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/appointment"
	"github.com/hackgods/kiosk-booking/internal/billing"
	"github.com/hackgods/kiosk-booking/internal/otp"
	"github.com/hackgods/kiosk-booking/internal/session"
	"github.com/hackgods/kiosk-booking/internal/validator"
	"github.com/hackgods/kiosk-booking/internal/walkin"
)

type RouterConfig struct {
	OTP            *otp.Manager
	Sessions       *session.Codec
	Cookie         CookieConfig
	Appointments   *appointment.Service
	Walkins        *walkin.Service
	Billing        *billing.Service // nil disables the billing routes
	Checks         []Check
	CORSOrigins    []string // browser origins allowed to call with credentials
	Logger         *zap.Logger
	RequestTimeout time.Duration
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Razorpay-Signature"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           86400,
		}))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health/live", health.Liveness)
		r.Get("/health/ready", health.Readiness)

		r.Route("/kiosk", func(r chi.Router) {
			r.Post("/identify/send-otp", sendOTPHandler(cfg.OTP, v))
			r.Post("/identify/verify-otp", verifyOTPHandler(cfg.OTP, v))

			r.Post("/session/set", setSessionHandler(cfg.Sessions, cfg.Cookie, v))
			r.Get("/session/me", sessionMeHandler(cfg.Sessions, cfg.Cookie))
			r.Post("/session/clear", clearSessionHandler(cfg.Cookie))

			r.Post("/walkins/register", walkinRegisterHandler(cfg.Walkins, v))
			r.Post("/appointments/attach", attachHandler(cfg.Appointments, v))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/book", bookHandler(cfg.Appointments, v))
			r.Post("/book-batch", bookBatchHandler(cfg.Appointments, v))
			r.Get("/availability", availabilityHandler(cfg.Appointments))
		})
		r.Get("/patients/{patientId}/appointments", listPatientAppointmentsHandler(cfg.Appointments))
		r.Get("/patients/{patientId}/appointments/{appointmentId}", getAppointmentHandler(cfg.Appointments))

		if cfg.Billing != nil {
			r.Route("/billing/razorpay", func(r chi.Router) {
				r.Post("/order", createOrderHandler(cfg.Billing, v))
				r.Post("/verify", verifyPaymentHandler(cfg.Billing, v))
				r.Post("/webhook", webhookHandler(cfg.Billing))
			})
		}
	})

	return r
}
