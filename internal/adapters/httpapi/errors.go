package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"
	"github.com/sirupsen/logrus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/bulk"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/records"
)

const (
	CodeInternal           = "INTERNAL_ERROR"
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
)

type ErrorBody struct {
	Code      string                            `json:"code"`
	Message   string                            `json:"message"`
	Details   nullable.Nullable[map[string]any] `json:"details,omitempty"`
	RequestId nullable.Nullable[string]         `json:"requestId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func newErrorResponse(r *http.Request, code string, message string, details map[string]any) ErrorResponse {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}
	return er
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	writeJSON(w, status, newErrorResponse(r, code, message, details))
}

// writeAppError maps application errors to responses. Anything unrecognized is
// logged and reported as a generic 500.
func writeAppError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	if ae := (*records.Error)(nil); errors.As(err, &ae) {
		writeError(w, r, ae.Status, ae.Code, ae.Message, ae.Details)
		return
	}
	if ae := (*bulk.AnchorError)(nil); errors.As(err, &ae) {
		writeError(w, r, ae.Status, ae.Code, ae.Message, nil)
		return
	}
	log.WithError(err).WithField("path", r.URL.Path).Error("unhandled request error")
	writeError(w, r, http.StatusInternalServerError, CodeInternal, "Internal server error", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
