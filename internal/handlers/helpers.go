package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulseboard/pulseboard/internal/apperr"
	"github.com/pulseboard/pulseboard/internal/correlation"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeAppError maps the error taxonomy onto HTTP statuses and includes the
// correlation ID so a dashboard screenshot can be matched to server logs.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	msg := "internal server error"
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	writeJSON(w, apperr.HTTPStatus(code), map[string]string{
		"error":          code,
		"detail":         msg,
		"correlation_id": correlation.FromContext(r.Context()),
	})
}

// reportTimeout converts a deadline expiry on a store-only aggregate query
// into the report timeout code; other errors pass through.
func reportTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeReportTimeout, err, "report query exceeded its deadline")
	}
	return err
}
