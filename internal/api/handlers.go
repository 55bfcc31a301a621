package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/kiosk-booking/internal/appointment"
	"github.com/hackgods/kiosk-booking/internal/validator"
)

func bookHandler(svc *appointment.Service, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		req.trim()
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		d := req.AppointmentDetails
		booking, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID: req.PatientID,
			Kind:      appointment.KindDoctor,
			Details: appointment.Details{
				DateISO:          d.DateISO,
				TimeSlot:         d.TimeSlot,
				ClinicName:       d.ClinicName,
				Specialty:        d.Specialty,
				DoctorID:         d.DoctorID,
				DoctorName:       d.DoctorName,
				ConsultationType: d.ConsultationType,
				AppointmentType:  d.AppointmentType,
			},
			Contact: req.Contact.toContact(),
			Source:  req.Source,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResponse{
			PatientID:     booking.PatientID,
			AppointmentID: booking.AppointmentID,
			CreatedAt:     booking.CreatedAt,
			RecordType:    booking.RecordType,
			ArchiveKey:    booking.ArchiveKey,
		})
	}
}

func bookBatchHandler(svc *appointment.Service, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookBatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		req.trim()
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		d := req.AppointmentDetails
		bookings, err := svc.BookBatch(r.Context(), appointment.BatchRequest{
			PatientID: req.PatientID,
			Kind:      appointment.KindDoctor,
			Details: appointment.Details{
				DateISO:          d.DateISO,
				ClinicName:       d.ClinicName,
				Specialty:        d.Specialty,
				DoctorID:         d.DoctorID,
				DoctorName:       d.DoctorName,
				ConsultationType: d.ConsultationType,
				AppointmentType:  d.AppointmentType,
				Symptoms:         d.Symptoms,
				Fee:              d.Fee,
				Languages:        d.Languages,
			},
			TimeSlots: req.TimeSlots,
			Contact:   req.Contact.toContact(),
			Source:    req.Source,
		})
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := BatchResponse{Appointments: make([]BatchItemResponse, 0, len(bookings))}
		for _, b := range bookings {
			resp.Appointments = append(resp.Appointments, BatchItemResponse{
				PatientID:     b.PatientID,
				AppointmentID: b.AppointmentID,
				CreatedAt:     b.CreatedAt,
				TimeSlot:      b.TimeSlot,
			})
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		avail, err := svc.Availability(r.Context(), q.Get("type"), q.Get("resourceId"), q.Get("date"))
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ResourceKey: avail.ResourceKey,
			Date:        avail.Date,
			Booked:      avail.Booked,
		})
	}
}

func attachHandler(svc *appointment.Service, v *validator.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AttachRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		if err := v.ValidateStruct(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
			return
		}

		res, err := svc.AttachKiosk(r.Context(), req.PatientID, req.AppointmentID, req.Kiosk)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AttachResponse{
			OK:            true,
			PatientID:     res.PatientID,
			AppointmentID: res.AppointmentID,
			Kiosk:         res.Kiosk,
			UpdatedAt:     res.UpdatedAt,
		})
	}
}

func listPatientAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		recs, err := svc.ListByPatient(r.Context(), chi.URLParam(r, "patientId"), limit)
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"appointments": recs})
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Get(r.Context(), chi.URLParam(r, "patientId"), chi.URLParam(r, "appointmentId"))
		if err != nil {
			handleBookingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	var batch *appointment.BatchSlotConflictError
	switch {
	case errors.As(err, &batch):
		writeJSON(w, http.StatusConflict, BatchConflictResponse{
			Error:     "One or more slots are no longer available",
			Conflicts: batch.Conflicts,
		})
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrBookingWriteFailed):
		writeError(w, http.StatusInternalServerError, "booking_write_failed", "could not save the appointment, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
