package itest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/httpapi"
	memevents "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/events"
	memidempotency "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/idempotency"
	memrecordrepo "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/recordrepo"
	pgidempotency "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres/idempotency"
	pgrecordrepo "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres/recordrepo"
	postgres_testutil "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres/testutil"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/bulk"
	idemapp "github.com/Overland-East-Bay/catalog-intake-api/internal/app/idempotency"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/records"
	platformclock "github.com/Overland-East-Bay/catalog-intake-api/internal/platform/clock"
	idempotencyport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
	recordrepoport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|all)")
		return nil
	}
}

type testServer struct {
	baseURL string
	client  *http.Client
}

func newTestServer(t *testing.T, b backend) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)
	clk := platformclock.NewSystemClock()

	var (
		recordRepo recordrepoport.Repository
		idemStore  idempotencyport.Store
	)

	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		recordRepo = pgrecordrepo.NewRepo(pool)
		idemStore = pgidempotency.NewStore(pool)
	case backendMemory:
		recordRepo = memrecordrepo.NewRepo(clk)
		idemStore = memidempotency.NewStore()
	default:
		t.Fatalf("unknown backend: %s", b)
	}

	svc := records.NewService(recordRepo, memevents.NewRecorder(), log)
	proc := bulk.NewProcessor(svc, svc.Validator(), log, bulk.Options{})
	gate := idemapp.NewGate(idemStore, clk, log, idemapp.Options{FailOpen: true})
	handler := httpapi.NewRouter(httpapi.NewServer(svc, proc, gate, log), httpapi.RouterOptions{Logger: log})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
	}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, idempotencyKey string, body any) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(httpapi.IdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", status, wantStatus, string(body))
	}
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireHeaderPresent(t *testing.T, h http.Header, key string) {
	t.Helper()
	if strings.TrimSpace(h.Get(key)) == "" {
		t.Fatalf("expected header %q to be present", key)
	}
}
