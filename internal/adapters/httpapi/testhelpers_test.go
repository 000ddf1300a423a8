package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	memclock "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/clock"
	memevents "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/events"
	memidempotency "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/idempotency"
	memrecordrepo "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/recordrepo"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/bulk"
	idemapp "github.com/Overland-East-Bay/catalog-intake-api/internal/app/idempotency"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/records"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testEnv struct {
	handler http.Handler
	clk     *memclock.ManualClock
	repo    *memrecordrepo.Repo
	idem    *memidempotency.Store
	events  *memevents.Recorder
}

type envOptions struct {
	store    idempotency.Store
	failOpen bool
	limits   bulk.Limits
	router   RouterOptions
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	log := quietLogger()
	clk := memclock.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := memrecordrepo.NewRepo(clk)
	idem := memidempotency.NewStore()
	rec := memevents.NewRecorder()

	var store idempotency.Store = idem
	if opts.store != nil {
		store = opts.store
	}

	svc := records.NewService(repo, rec, log)
	proc := bulk.NewProcessor(svc, svc.Validator(), log, bulk.Options{Limits: opts.limits})
	gate := idemapp.NewGate(store, clk, log, idemapp.Options{FailOpen: opts.failOpen})

	ro := opts.router
	ro.Logger = log
	h := NewRouter(NewServer(svc, proc, gate, log), ro)

	return &testEnv{handler: h, clk: clk, repo: repo, idem: idem, events: rec}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func withKey(key string) map[string]string {
	return map[string]string{IdempotencyKeyHeader: key}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	return out
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorEnvelope {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status=%d want=%d body=%s", rec.Code, status, rec.Body.String())
	}
	er := decode[errorEnvelope](t, rec)
	if er.Error.Code != code {
		t.Fatalf("error.code=%q want=%q body=%s", er.Error.Code, code, rec.Body.String())
	}
	return er
}
