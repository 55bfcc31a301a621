// Package billing takes kiosk payments through Razorpay checkout.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/razorpay/razorpay-go/utils"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/store"
)

const OrdersTable = "billing_orders"

const (
	StatusCreated   = "created"
	StatusAttempted = "attempted"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidInvoice    = errors.New("invoice id is required")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrGateway           = errors.New("payment gateway failure")
)

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
	AutoCapture   bool
}

type OrderRequest struct {
	InvoiceID string
	Amount    int64 // smallest currency unit
	Notes     map[string]string
}

type OrderResult struct {
	KeyID     string
	OrderID   string
	Amount    int64
	Currency  string
	InvoiceID string
	Notes     map[string]any
}

type VerifyRequest struct {
	InvoiceID string
	OrderID   string
	PaymentID string
	Signature string
}

// WebhookEvent is the part of a Razorpay webhook the kiosk acts on.
type WebhookEvent struct {
	Event     string
	OrderID   string
	PaymentID string
	InvoiceID string
	Status    string
}

// storedOrder maps an invoice to the gateway order opened for it.
type storedOrder struct {
	InvoiceID string    `json:"invoiceId"`
	OrderID   string    `json:"orderId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	PaymentID string    `json:"paymentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func orderKey(invoiceID string) store.Key {
	return store.Key{Table: OrdersTable, PK: invoiceID, SK: "order"}
}

type Service struct {
	store   store.Store
	gateway Gateway
	clock   clockwork.Clock
	logger  *zap.Logger
	cfg     Config
}

func NewService(st store.Store, gw Gateway, clock clockwork.Clock, logger *zap.Logger, cfg Config) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{store: st, gateway: gw, clock: clock, logger: logger, cfg: cfg}
}

// CreateOrReuseOrder returns the open order for the invoice if the gateway
// still accepts payments against it, and opens a new one otherwise.
func (s *Service) CreateOrReuseOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Amount <= 0 {
		return OrderResult{}, ErrInvalidAmount
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		return OrderResult{}, ErrInvalidInvoice
	}

	var prev storedOrder
	err := s.store.Get(ctx, orderKey(req.InvoiceID), &prev)
	switch {
	case err == nil:
		o, ferr := s.gateway.FetchOrder(ctx, prev.OrderID)
		if ferr == nil && (o.Status == StatusCreated || o.Status == StatusAttempted) {
			return s.result(req.InvoiceID, o), nil
		}
		if ferr != nil {
			s.logger.Warn("could not reuse razorpay order",
				zap.String("invoice_id", req.InvoiceID), zap.String("order_id", prev.OrderID), zap.Error(ferr))
		}
	case !errors.Is(err, store.ErrNotFound):
		return OrderResult{}, fmt.Errorf("load billing order: %w", err)
	}

	notes := map[string]any{"invoice_id": req.InvoiceID}
	for k, v := range req.Notes {
		if k != "invoice_id" {
			notes[k] = v
		}
	}
	o, err := s.gateway.CreateOrder(ctx, req.Amount, s.cfg.Currency, req.InvoiceID, notes)
	if err != nil {
		s.logger.Error("razorpay order create failed", zap.String("invoice_id", req.InvoiceID), zap.Error(err))
		return OrderResult{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	now := s.clock.Now().UTC()
	err = s.store.Put(ctx, store.Item{Key: orderKey(req.InvoiceID), Value: storedOrder{
		InvoiceID: req.InvoiceID,
		OrderID:   o.ID,
		Amount:    o.Amount,
		Currency:  o.Currency,
		Status:    o.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}})
	if err != nil {
		return OrderResult{}, fmt.Errorf("store billing order: %w", err)
	}
	s.logger.Info("razorpay order created", zap.String("invoice_id", req.InvoiceID), zap.String("order_id", o.ID))
	return s.result(req.InvoiceID, o), nil
}

func (s *Service) result(invoiceID string, o Order) OrderResult {
	notes := o.Notes
	if notes == nil {
		notes = map[string]any{}
	}
	return OrderResult{
		KeyID:     s.cfg.KeyID,
		OrderID:   o.ID,
		Amount:    o.Amount,
		Currency:  o.Currency,
		InvoiceID: invoiceID,
		Notes:     notes,
	}
}

// Verify checks the checkout signature and captures the payment when the
// account does not auto-capture.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) error {
	if s.cfg.KeySecret == "" || req.Signature == "" {
		return ErrSignatureMismatch
	}
	attrs := map[string]interface{}{
		"razorpay_order_id":   req.OrderID,
		"razorpay_payment_id": req.PaymentID,
	}
	if !utils.VerifyPaymentSignature(attrs, req.Signature, s.cfg.KeySecret) {
		return ErrSignatureMismatch
	}

	if !s.cfg.AutoCapture {
		p, err := s.gateway.FetchPayment(ctx, req.PaymentID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGateway, err)
		}
		if err := s.gateway.CapturePayment(ctx, req.PaymentID, p.Amount, p.Currency); err != nil {
			s.logger.Error("manual capture failed", zap.String("payment_id", req.PaymentID), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrGateway, err)
		}
	}

	if req.InvoiceID != "" {
		s.markOrder(ctx, req.InvoiceID, StatusPaid, req.PaymentID)
	}
	return nil
}

// HandleWebhook authenticates a webhook body against its
// X-Razorpay-Signature header and records the resulting payment state.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookEvent, error) {
	if s.cfg.WebhookSecret != "" {
		if signature == "" || !utils.VerifyWebhookSignature(string(body), signature, s.cfg.WebhookSecret) {
			return WebhookEvent{}, ErrSignatureMismatch
		}
	}

	var raw struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string         `json:"id"`
					OrderID string         `json:"order_id"`
					Notes   map[string]any `json:"notes"`
				} `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity struct {
					ID      string         `json:"id"`
					Receipt string         `json:"receipt"`
					Notes   map[string]any `json:"notes"`
				} `json:"entity"`
			} `json:"order"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}

	payment := raw.Payload.Payment.Entity
	order := raw.Payload.Order.Entity
	ev := WebhookEvent{
		Event:     raw.Event,
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		InvoiceID: str(payment.Notes["invoice_id"]),
	}
	if ev.OrderID == "" {
		ev.OrderID = order.ID
	}
	if ev.InvoiceID == "" {
		ev.InvoiceID = str(order.Notes["invoice_id"])
	}
	if ev.InvoiceID == "" {
		ev.InvoiceID = order.Receipt
	}

	switch raw.Event {
	case "payment.captured", "order.paid":
		ev.Status = StatusPaid
	case "payment.failed":
		ev.Status = StatusFailed
	}

	s.logger.Info("razorpay webhook",
		zap.String("event", ev.Event), zap.String("order_id", ev.OrderID), zap.String("invoice_id", ev.InvoiceID))
	if ev.Status != "" && ev.InvoiceID != "" {
		s.markOrder(ctx, ev.InvoiceID, ev.Status, ev.PaymentID)
	}
	return ev, nil
}

func (s *Service) markOrder(ctx context.Context, invoiceID, status, paymentID string) {
	set := map[string]any{"status": status, "updatedAt": s.clock.Now().UTC()}
	if paymentID != "" {
		set["paymentId"] = paymentID
	}
	err := s.store.Update(ctx, orderKey(invoiceID), store.Update{Set: set})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("failed to record billing status",
			zap.String("invoice_id", invoiceID), zap.String("status", status), zap.Error(err))
	}
}
