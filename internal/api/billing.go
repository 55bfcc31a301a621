package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/hackgods/kiosk-booking/internal/billing"
	"github.com/hackgods/kiosk-booking/internal/validator"
)

func createOrderHandler(svc *billing.Service, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateOrderRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		res, err := svc.CreateOrReuseOrder(r.Context(), billing.OrderRequest{
			InvoiceID: req.InvoiceID,
			Amount:    req.Amount,
			Notes:     req.Notes,
		})
		if err != nil {
			handleBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CreateOrderResponse{
			KeyID:     res.KeyID,
			OrderID:   res.OrderID,
			Amount:    res.Amount,
			Currency:  res.Currency,
			InvoiceID: res.InvoiceID,
			Notes:     res.Notes,
		})
	}
}

func verifyPaymentHandler(svc *billing.Service, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyPaymentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		err := svc.Verify(r.Context(), billing.VerifyRequest{
			InvoiceID: req.InvoiceID,
			OrderID:   req.OrderID,
			PaymentID: req.PaymentID,
			Signature: req.Signature,
		})
		if err != nil {
			handleBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, VerifyPaymentResponse{OK: true, InvoiceID: req.InvoiceID})
	}
}

func webhookHandler(svc *billing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		if _, err := svc.HandleWebhook(r.Context(), body, r.Header.Get("X-Razorpay-Signature")); err != nil {
			handleBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

func handleBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrInvalidAmount), errors.Is(err, billing.ErrInvalidInvoice):
		writeError(w, http.StatusBadRequest, "invalid_order", err.Error())
	case errors.Is(err, billing.ErrSignatureMismatch):
		writeError(w, http.StatusBadRequest, "signature_mismatch", err.Error())
	case errors.Is(err, billing.ErrGateway):
		writeError(w, http.StatusBadGateway, "gateway_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
