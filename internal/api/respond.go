package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/soaringjerry/Coursepulse/internal/services"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Table      string `json:"table,omitempty"`
	Key        string `json:"key,omitempty"`
	QuestionID string `json:"questionId,omitempty"`
	Rule       string `json:"rule,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid, services.ErrorInvalidInput:
		return http.StatusBadRequest
	case services.ErrorMissingRequired, services.ErrorInvalidAnswer:
		return http.StatusUnprocessableEntity
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict, services.ErrorCapacity:
		return http.StatusConflict
	case services.ErrorSurveyClosed:
		return http.StatusForbidden
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorTooManyRequests:
		return http.StatusTooManyRequests
	case services.ErrorBadGateway:
		return http.StatusBadGateway
	case services.ErrorUnavailable:
		return http.StatusServiceUnavailable
	case services.ErrorStorageTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError renders service errors with their context fields. Anything
// else is logged and reported as an internal error.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		rt.log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
		return
	}
	status := statusFor(se.Code)
	if status >= 500 {
		rt.log.Error("request failed", slog.String("path", r.URL.Path), slog.String("code", string(se.Code)), slog.Any("err", err))
	}
	writeJSON(w, status, errorBody{
		Error:      se.Message,
		Code:       string(se.Code),
		Table:      se.Table,
		Key:        se.Key,
		QuestionID: se.QuestionID,
		Rule:       se.Rule,
	})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return services.NewInvalidError("request body required")
		}
		return services.NewInvalidError("invalid JSON body: " + err.Error())
	}
	return nil
}
