package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps a service error onto a status code. Internal
// errors are logged and never leave the process.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch appointment.KindOf(err) {
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, notFoundCode(err), err.Error())
	case appointment.KindConflict:
		code := "slot_unavailable"
		if reason := appointment.ReasonOf(err); reason == "invalid_transition" {
			code = "invalid_status_transition"
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   code,
			Reason:  appointment.ReasonOf(err),
			Details: err.Error(),
		})
	case appointment.KindValidation:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Reason:  appointment.ReasonOf(err),
			Details: err.Error(),
		})
	default:
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func notFoundCode(err error) string {
	switch {
	case errors.Is(err, appointment.ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, appointment.ErrPatientNotFound):
		return "patient_not_found"
	}
	return "appointment_not_found"
}
