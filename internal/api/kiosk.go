package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hackgods/kiosk-booking/internal/otp"
	"github.com/hackgods/kiosk-booking/internal/session"
	"github.com/hackgods/kiosk-booking/internal/validator"
	"github.com/hackgods/kiosk-booking/internal/walkin"
)

// CookieConfig controls the kiosk session cookie.
type CookieConfig struct {
	Name     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// ParseSameSite maps lax, strict or none to its cookie attribute.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func sendOTPHandler(m *otp.Manager, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendOTPRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		ch, err := m.RequestCode(r.Context(), req.Mobile, req.CountryCode)
		if err != nil {
			handleOTPError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SendOTPResponse{OTPSessionID: ch.SessionID, NormalizedPhone: ch.Phone})
	}
}

func verifyOTPHandler(m *otp.Manager, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyOTPRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		res, err := m.VerifyCode(r.Context(), req.Mobile, req.CountryCode, strings.TrimSpace(req.Code), req.OTPSessionID)
		if err != nil {
			handleOTPError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, VerifyOTPResponse{PatientID: res.PatientID, NormalizedPhone: res.Phone})
	}
}

func handleOTPError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, otp.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, "invalid_phone", err.Error())
	case errors.Is(err, otp.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "identity_not_found", err.Error())
	case errors.Is(err, otp.ErrSessionNotFound):
		writeError(w, http.StatusBadRequest, "otp_session_not_found", err.Error())
	case errors.Is(err, otp.ErrExpired):
		writeError(w, http.StatusBadRequest, "otp_expired", err.Error())
	case errors.Is(err, otp.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid_code", err.Error())
	case errors.Is(err, otp.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func setSessionHandler(codec *session.Codec, cookie CookieConfig, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetSessionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		req.PatientID = strings.TrimSpace(req.PatientID)
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		if strings.Contains(req.PatientID, ".") {
			writeError(w, http.StatusBadRequest, "validation_failed", "patientId must not contain '.'")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cookie.Name,
			Value:    codec.Issue(req.PatientID),
			Path:     "/",
			Domain:   cookie.Domain,
			MaxAge:   int(codec.TTL().Seconds()),
			Secure:   cookie.Secure,
			HttpOnly: true,
			SameSite: cookie.SameSite,
		})
		writeJSON(w, http.StatusOK, SessionResponse{OK: true, PatientID: req.PatientID})
	}
}

func sessionMeHandler(codec *session.Codec, cookie CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(cookie.Name)
		if err != nil || c.Value == "" {
			writeError(w, http.StatusNotFound, "no_session", "no kiosk session")
			return
		}
		patientID, err := codec.Verify(c.Value)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_session", "invalid or expired kiosk session")
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{PatientID: patientID})
	}
}

func clearSessionHandler(cookie CookieConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     cookie.Name,
			Value:    "",
			Path:     "/",
			Domain:   cookie.Domain,
			MaxAge:   -1,
			Secure:   cookie.Secure,
			HttpOnly: true,
			SameSite: cookie.SameSite,
		})
		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	}
}

func walkinRegisterHandler(svc *walkin.Service, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WalkinRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		reg, err := svc.Register(r.Context(), walkin.Request{
			Mobile:       req.Mobile,
			CountryCode:  req.CountryCode,
			Name:         strings.TrimSpace(req.Name),
			YearOfBirth:  req.YearOfBirth,
			Gender:       req.Gender,
			HasCaregiver: req.HasCaregiver,
		})
		if err != nil {
			if errors.Is(err, walkin.ErrInvalidPhone) {
				writeError(w, http.StatusBadRequest, "invalid_phone", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, WalkinResponse{
			PatientID:       reg.PatientID,
			Created:         reg.Created,
			KioskVisitID:    reg.KioskVisitID,
			NormalizedPhone: reg.NormalizedPhone,
		})
	}
}
