package contracttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	memclock "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/clock"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	clockport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/clock"
	idempotencyport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
	recordrepoport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

type CleanupFunc = func()

type RecordRepoFactory func(t *testing.T, clk clockport.Clock) (recordrepoport.Repository, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(1_700_000_000, 0).UTC()
	ttl := time.Hour

	// Missing token.
	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	// Insert, then a second insert for the same token is rejected.
	e := idempotencyport.NewEntry("k-1", "hash-abc", now, ttl)
	if err := store.Insert(ctx, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Insert(ctx, idempotencyport.NewEntry("k-1", "hash-other", now, ttl)); !errors.Is(err, idempotencyport.ErrAlreadyExists) {
		t.Fatalf("Insert duplicate err=%v, want ErrAlreadyExists", err)
	}
	got, ok, err := store.Get(ctx, "k-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Status != idempotencyport.StatusProcessing || got.Fingerprint != "hash-abc" {
		t.Fatalf("unexpected entry after insert: %+v", got)
	}
	if !got.ExpiresAt.Equal(now.Add(ttl)) || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected timestamps: created=%v expires=%v", got.CreatedAt, got.ExpiresAt)
	}

	// Complete.
	done := e.Complete(idempotencyport.Response{StatusCode: 201, ContentType: "application/json", Body: []byte(`{"id":1}`)}, now.Add(time.Second))
	if err := store.Complete(ctx, done); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, ok, err = store.Get(ctx, "k-1")
	if err != nil || !ok {
		t.Fatalf("Get completed: ok=%v err=%v", ok, err)
	}
	if got.Status != idempotencyport.StatusCompleted || got.Response.StatusCode != 201 ||
		got.Response.ContentType != "application/json" || string(got.Response.Body) != `{"id":1}` {
		t.Fatalf("unexpected completed entry: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("CompletedAt=%v, want %v", got.CompletedAt, now.Add(time.Second))
	}
	if err := store.Complete(ctx, idempotencyport.NewEntry("never-inserted", "x", now, ttl).Complete(idempotencyport.Response{StatusCode: 200}, now)); !errors.Is(err, idempotencyport.ErrNotFound) {
		t.Fatalf("Complete missing err=%v, want ErrNotFound", err)
	}

	// DeleteIfExpired leaves live entries alone.
	if err := store.DeleteIfExpired(ctx, "k-1", now.Add(ttl)); err != nil {
		t.Fatalf("DeleteIfExpired live: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k-1"); !ok {
		t.Fatalf("live entry removed by DeleteIfExpired")
	}
	if err := store.DeleteIfExpired(ctx, "k-1", now.Add(ttl+time.Second)); err != nil {
		t.Fatalf("DeleteIfExpired expired: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k-1"); ok {
		t.Fatalf("expired entry survived DeleteIfExpired")
	}
	if err := store.DeleteIfExpired(ctx, "k-1", now.Add(2*ttl)); err != nil {
		t.Fatalf("DeleteIfExpired missing: %v", err)
	}

	// Delete.
	if err := store.Insert(ctx, idempotencyport.NewEntry("k-del", "h", now, ttl)); err != nil {
		t.Fatalf("Insert k-del: %v", err)
	}
	if err := store.Delete(ctx, "k-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k-del"); ok {
		t.Fatalf("entry survived Delete")
	}
	if err := store.Insert(ctx, idempotencyport.NewEntry("k-del", "h2", now, ttl)); err != nil {
		t.Fatalf("re-Insert after Delete: %v", err)
	}

	// Stats and DeleteExpired.
	if err := store.Insert(ctx, idempotencyport.NewEntry("k-old-1", "h", now.Add(-2*ttl), ttl)); err != nil {
		t.Fatalf("Insert old-1: %v", err)
	}
	old2 := idempotencyport.NewEntry("k-old-2", "h", now.Add(-2*ttl), ttl)
	if err := store.Insert(ctx, old2); err != nil {
		t.Fatalf("Insert old-2: %v", err)
	}
	if err := store.Complete(ctx, old2.Complete(idempotencyport.Response{StatusCode: 200, Body: []byte("ok")}, now.Add(-2*ttl))); err != nil {
		t.Fatalf("Complete old-2: %v", err)
	}
	st, err := store.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 3 || st.Expired != 2 || st.Processing != 2 || st.Completed != 1 {
		t.Fatalf("Stats=%+v, want total=3 expired=2 processing=2 completed=1", st)
	}
	n, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteExpired n=%d, want 2", n)
	}
	if _, ok, _ := store.Get(ctx, "k-del"); !ok {
		t.Fatalf("live entry removed by DeleteExpired")
	}

	// Concurrent admission of one token: exactly one insert wins.
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		dupes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Insert(ctx, idempotencyport.NewEntry("k-race", idempotencyport.Fingerprint(fmt.Sprintf("h-%d", i)), now, ttl))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, idempotencyport.ErrAlreadyExists):
				dupes++
			default:
				t.Errorf("concurrent Insert: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || dupes != 7 {
		t.Fatalf("concurrent Insert wins=%d dupes=%d, want 1/7", wins, dupes)
	}
}

func RunRecordRepo(t *testing.T, newRepo RecordRepoFactory) {
	t.Helper()
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0).UTC()
	clk := memclock.NewManualClock(start)
	repo, cleanup := newRepo(t, clk)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	brand := "Acme"
	a, err := repo.Create(ctx, recordrepoport.NewRecord{SKU: "SKU-A", Title: "Alpha", Status: domain.RecordStatusActive, Brand: &brand})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if a.ID <= 0 || a.Status != domain.RecordStatusActive || a.CreatedAt.IsZero() {
		t.Fatalf("unexpected created record: %+v", a)
	}
	if a.Brand == nil || *a.Brand != "Acme" || a.Category != nil {
		t.Fatalf("unexpected optional fields: brand=%v category=%v", a.Brand, a.Category)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SKU != "SKU-A" || got.Title != "Alpha" || !got.CreatedAt.Equal(a.CreatedAt) {
		t.Fatalf("GetByID=%+v, want %+v", got, a)
	}
	if _, err := repo.GetByID(ctx, a.ID+1000); !errors.Is(err, recordrepoport.ErrNotFound) {
		t.Fatalf("GetByID missing err=%v, want ErrNotFound", err)
	}

	// SKU uniqueness.
	if _, err := repo.Create(ctx, recordrepoport.NewRecord{SKU: "SKU-A", Title: "Again", Status: domain.RecordStatusActive}); !errors.Is(err, recordrepoport.ErrDuplicateSKU) {
		t.Fatalf("Create duplicate err=%v, want ErrDuplicateSKU", err)
	}
	if ok, err := repo.ExistsBySKU(ctx, "SKU-A"); err != nil || !ok {
		t.Fatalf("ExistsBySKU(SKU-A)=%v err=%v", ok, err)
	}
	if ok, err := repo.ExistsBySKU(ctx, "SKU-Z"); err != nil || ok {
		t.Fatalf("ExistsBySKU(SKU-Z)=%v err=%v", ok, err)
	}

	// With a manual clock b and c share a timestamp and ordering falls back to id.
	clk.Advance(time.Minute)
	b, err := repo.Create(ctx, recordrepoport.NewRecord{SKU: "SKU-B", Title: "Bravo", Status: domain.RecordStatusInactive})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	c, err := repo.Create(ctx, recordrepoport.NewRecord{SKU: "SKU-C", Title: "Charlie", Status: domain.RecordStatusActive, Brand: &brand})
	if err != nil {
		t.Fatalf("Create c: %v", err)
	}
	clk.Advance(time.Minute)
	d, err := repo.Create(ctx, recordrepoport.NewRecord{SKU: "SKU-D", Title: "Delta", Status: domain.RecordStatusActive})
	if err != nil {
		t.Fatalf("Create d: %v", err)
	}

	all, err := repo.List(ctx, recordrepoport.ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	wantOrder := []domain.RecordID{d.ID, c.ID, b.ID, a.ID}
	if ids := recordIDs(all); !equalIDs(ids, wantOrder) {
		t.Fatalf("List order=%v, want %v", ids, wantOrder)
	}

	// Keyset continuation from c picks up b then a.
	after := recordrepoport.Position{CreatedAt: c.CreatedAt, ID: c.ID}
	rest, err := repo.List(ctx, recordrepoport.ListQuery{After: &after, Limit: 10})
	if err != nil {
		t.Fatalf("List after: %v", err)
	}
	if ids := recordIDs(rest); !equalIDs(ids, []domain.RecordID{b.ID, a.ID}) {
		t.Fatalf("List after c=%v, want [%d %d]", ids, b.ID, a.ID)
	}

	limited, err := repo.List(ctx, recordrepoport.ListQuery{Limit: 2})
	if err != nil {
		t.Fatalf("List limit: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != d.ID {
		t.Fatalf("List limit=2 got %v", recordIDs(limited))
	}

	// A record created after a page was served sorts ahead of that page's
	// position, so continuing from it never yields the new record.
	last := limited[len(limited)-1]
	pos := recordrepoport.Position{CreatedAt: last.CreatedAt, ID: last.ID}
	e, err := repo.Create(ctx, recordrepoport.NewRecord{SKU: "SKU-E", Title: "Echo", Status: domain.RecordStatusArchived})
	if err != nil {
		t.Fatalf("Create e: %v", err)
	}
	if e.CreatedAt.Before(d.CreatedAt) {
		t.Fatalf("e.CreatedAt=%v before d.CreatedAt=%v", e.CreatedAt, d.CreatedAt)
	}
	tail, err := repo.List(ctx, recordrepoport.ListQuery{After: &pos, Limit: 10})
	if err != nil {
		t.Fatalf("List after page: %v", err)
	}
	if ids := recordIDs(tail); !equalIDs(ids, []domain.RecordID{b.ID, a.ID}) {
		t.Fatalf("List after page=%v, want [%d %d]", ids, b.ID, a.ID)
	}
	fresh, err := repo.List(ctx, recordrepoport.ListQuery{Limit: 1})
	if err != nil {
		t.Fatalf("List fresh: %v", err)
	}
	if len(fresh) != 1 || fresh[0].ID != e.ID {
		t.Fatalf("List fresh=%v, want [%d]", recordIDs(fresh), e.ID)
	}

	// Filters.
	inactive := domain.RecordStatusInactive
	byStatus, err := repo.List(ctx, recordrepoport.ListQuery{Filter: recordrepoport.Filter{Status: &inactive}, Limit: 10})
	if err != nil {
		t.Fatalf("List status: %v", err)
	}
	if ids := recordIDs(byStatus); !equalIDs(ids, []domain.RecordID{b.ID}) {
		t.Fatalf("List status=inactive=%v, want [%d]", ids, b.ID)
	}
	byBrand, err := repo.List(ctx, recordrepoport.ListQuery{Filter: recordrepoport.Filter{Brand: &brand}, Limit: 10})
	if err != nil {
		t.Fatalf("List brand: %v", err)
	}
	if ids := recordIDs(byBrand); !equalIDs(ids, []domain.RecordID{c.ID, a.ID}) {
		t.Fatalf("List brand=Acme=%v, want [%d %d]", ids, c.ID, a.ID)
	}
	category := "none"
	byCategory, err := repo.List(ctx, recordrepoport.ListQuery{Filter: recordrepoport.Filter{Category: &category}, Limit: 10})
	if err != nil {
		t.Fatalf("List category: %v", err)
	}
	if len(byCategory) != 0 {
		t.Fatalf("List category=none=%v, want empty", recordIDs(byCategory))
	}

	// Concurrent creates with one SKU: exactly one succeeds.
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		dupes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, recordrepoport.NewRecord{SKU: "SKU-RACE", Title: "Race", Status: domain.RecordStatusActive})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, recordrepoport.ErrDuplicateSKU):
				dupes++
			default:
				t.Errorf("concurrent Create: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || dupes != 7 {
		t.Fatalf("concurrent Create wins=%d dupes=%d, want 1/7", wins, dupes)
	}
}

func recordIDs(rs []domain.Record) []domain.RecordID {
	out := make([]domain.RecordID, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func equalIDs(a, b []domain.RecordID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
