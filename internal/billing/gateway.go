package billing

import (
	"context"
	"fmt"

	"github.com/razorpay/razorpay-go"
)

type Order struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	Receipt  string
	Notes    map[string]any
}

type Payment struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Status   string
}

// Gateway is the subset of a payment provider the kiosk uses.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]any) (Order, error)
	FetchOrder(ctx context.Context, orderID string) (Order, error)
	FetchPayment(ctx context.Context, paymentID string) (Payment, error)
	CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) error
}

type RazorpayGateway struct {
	client *razorpay.Client
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]any) (Order, error) {
	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
		"notes":    notes,
	}
	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		return Order{}, fmt.Errorf("razorpay create order: %w", err)
	}
	return orderFrom(body), nil
}

func (g *RazorpayGateway) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	body, err := g.client.Order.Fetch(orderID, nil, nil)
	if err != nil {
		return Order{}, fmt.Errorf("razorpay fetch order %s: %w", orderID, err)
	}
	return orderFrom(body), nil
}

func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	body, err := g.client.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return Payment{}, fmt.Errorf("razorpay fetch payment %s: %w", paymentID, err)
	}
	return Payment{
		ID:       str(body["id"]),
		OrderID:  str(body["order_id"]),
		Amount:   num(body["amount"]),
		Currency: str(body["currency"]),
		Status:   str(body["status"]),
	}, nil
}

func (g *RazorpayGateway) CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) error {
	_, err := g.client.Payment.Capture(paymentID, int(amount), map[string]interface{}{"currency": currency}, nil)
	if err != nil {
		return fmt.Errorf("razorpay capture payment %s: %w", paymentID, err)
	}
	return nil
}

func orderFrom(body map[string]interface{}) Order {
	o := Order{
		ID:       str(body["id"]),
		Amount:   num(body["amount"]),
		Currency: str(body["currency"]),
		Status:   str(body["status"]),
		Receipt:  str(body["receipt"]),
	}
	// Razorpay sends an empty list rather than an empty object when there are no notes.
	if notes, ok := body["notes"].(map[string]interface{}); ok {
		o.Notes = notes
	}
	return o
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}
