package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/sirupsen/logrus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/bulk"
	idemapp "github.com/Overland-East-Bay/catalog-intake-api/internal/app/idempotency"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/records"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
)

// Server holds the HTTP handlers for the intake API.
type Server struct {
	Records *records.Service
	Bulk    *bulk.Processor
	Gate    *idemapp.Gate

	log logrus.FieldLogger
}

func NewServer(recordsSvc *records.Service, bulkProc *bulk.Processor, gate *idemapp.Gate, log logrus.FieldLogger) *Server {
	return &Server{
		Records: recordsSvc,
		Bulk:    bulkProc,
		Gate:    gate,
		log:     log,
	}
}

func (s *Server) CreateItem(w http.ResponseWriter, r *http.Request) {
	var in records.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, records.CodeValidation, "invalid JSON body", map[string]any{"body": err.Error()})
		return
	}
	rec, err := s.Records.CreateRecord(r.Context(), in)
	if err != nil {
		writeAppError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemFromDomain(rec))
}

func (s *Server) GetItem(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, records.CodeValidation, "invalid item id", map[string]any{"id": "must be an integer"})
		return
	}
	rec, err := s.Records.GetRecord(r.Context(), domain.RecordID(id))
	if err != nil {
		writeAppError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, itemFromDomain(rec))
}

func (s *Server) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var in records.ListInput
	if err := runtime.BindQueryParameter("form", true, false, "limit", q, &in.Limit); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, records.CodeValidation, "invalid limit", map[string]any{"limit": "must be an integer"})
		return
	}
	for name, dst := range map[string]**string{
		"cursor":   &in.Cursor,
		"status":   &in.Status,
		"brand":    &in.Brand,
		"category": &in.Category,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, q, dst); err != nil {
			writeError(w, r, http.StatusUnprocessableEntity, records.CodeValidation, "invalid "+name, map[string]any{name: err.Error()})
			return
		}
	}

	page, err := s.Records.ListRecords(r.Context(), in)
	if err != nil {
		writeAppError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponseFromPage(page))
}

// BulkImport applies the size anchor before decoding and the count anchor
// before any item is processed.
func (s *Server) BulkImport(w http.ResponseWriter, r *http.Request) {
	limits := s.Bulk.Limits()
	if r.ContentLength > 0 {
		if err := limits.CheckSize(r.ContentLength); err != nil {
			writeAppError(w, r, s.log, err)
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limits.MaxSizeBytes()+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequestBody, "Failed to read request body", nil)
		return
	}
	if err := limits.CheckSize(int64(len(body))); err != nil {
		writeAppError(w, r, s.log, err)
		return
	}

	var req BulkRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequestBody, "Invalid request body: "+err.Error(), nil)
		return
	}
	if err := limits.CheckCount(len(req.Items)); err != nil {
		writeAppError(w, r, s.log, err)
		return
	}

	res := s.Bulk.Import(r.Context(), req.Items)
	writeJSON(w, res.StatusCode(), bulkResponseFromResult(res))
}

func (s *Server) BulkLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, bulkLimitsFromDomain(s.Bulk.Limits()))
}

func (s *Server) IdempotencyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Gate.Stats(r.Context())
	if err != nil {
		writeAppError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, statsFromDomain(stats))
}
