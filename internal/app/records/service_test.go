package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"pgregory.net/rapid"

	memclock "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/clock"
	memevents "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/events"
	memrecordrepo "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/memory/recordrepo"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/platform/cursor"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func newTestService(t *testing.T) (*Service, *memrecordrepo.Repo, *memclock.ManualClock, *memevents.Recorder) {
	t.Helper()
	clk := memclock.NewManualClock(time.Unix(1_700_000_000, 0).UTC())
	repo := memrecordrepo.NewRepo(clk)
	rec := memevents.NewRecorder()
	return NewService(repo, rec, quietLogger()), repo, clk, rec
}

func TestService_CreateRecord_DefaultsAndPublishes(t *testing.T) {
	t.Parallel()

	svc, _, clk, events := newTestService(t)
	got, err := svc.CreateRecord(context.Background(), Input{SKU: "SKU-1", Title: "Widget", Brand: strPtr("Acme")})
	if err != nil {
		t.Fatalf("CreateRecord err=%v", err)
	}
	if got.ID != 1 || got.Status != domain.RecordStatusActive || !got.CreatedAt.Equal(clk.Now()) {
		t.Fatalf("created=%+v", got)
	}
	if pub := events.Created(); len(pub) != 1 || pub[0].ID != got.ID {
		t.Fatalf("published=%+v", pub)
	}
}

func TestService_CreateRecord_DuplicateSKU(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)
	if _, err := svc.CreateRecord(context.Background(), Input{SKU: "SKU-1", Title: "A"}); err != nil {
		t.Fatalf("CreateRecord err=%v", err)
	}
	_, err := svc.CreateRecord(context.Background(), Input{SKU: "SKU-1", Title: "B"})
	ae := (*Error)(nil)
	if !errors.As(err, &ae) || ae.Status != 409 || ae.Code != CodeDuplicateSKU {
		t.Fatalf("err=%v (type=%T), want DUPLICATE_SKU 409", err, err)
	}
	if ae.Message != "Item with SKU 'SKU-1' already exists" {
		t.Fatalf("message=%q", ae.Message)
	}
}

func TestService_CreateRecord_PublishFailureDoesNotFailWrite(t *testing.T) {
	t.Parallel()

	svc, repo, _, events := newTestService(t)
	events.FailWith(errors.New("broker down"))
	got, err := svc.CreateRecord(context.Background(), Input{SKU: "SKU-1", Title: "A"})
	if err != nil {
		t.Fatalf("CreateRecord err=%v", err)
	}
	if _, err := repo.GetByID(context.Background(), got.ID); err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
}

func TestService_CreateRecord_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)
	_, err := svc.CreateRecord(context.Background(), Input{SKU: "SKU-1", Title: "   ", Status: strPtr("deleted")})
	ae := (*Error)(nil)
	if !errors.As(err, &ae) || ae.Status != 422 || ae.Code != CodeValidation {
		t.Fatalf("err=%v, want VALIDATION_ERROR 422", err)
	}
	if ae.Details["title"] != "Title is required" {
		t.Fatalf("details=%v", ae.Details)
	}
	if msg, _ := ae.Details["status"].(string); !strings.HasPrefix(msg, "Invalid status: 'deleted'") {
		t.Fatalf("details=%v", ae.Details)
	}
}

func TestValidator_Classification(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	cases := []struct {
		name string
		in   Input
		code string
		msg  string
	}{
		{name: "empty sku", in: Input{SKU: "", Title: "t"}, code: CodeValidation, msg: "SKU is required"},
		{name: "blank title", in: Input{SKU: "s", Title: " \t"}, code: CodeTitleRequired, msg: "Title is required"},
		{name: "long sku", in: Input{SKU: strings.Repeat("x", 101), Title: "t"}, code: CodeSKUTooLong, msg: "SKU too long: 101 characters (max 100)"},
		{name: "long title", in: Input{SKU: "s", Title: strings.Repeat("x", 256)}, code: CodeValidation, msg: "Title too long: 256 characters (max 255)"},
		{name: "bad status", in: Input{SKU: "s", Title: "t", Status: strPtr("gone")}, code: CodeInvalidStatus, msg: "Invalid status: 'gone'. Valid values: active, inactive, archived"},
		{name: "empty status", in: Input{SKU: "s", Title: "t", Status: strPtr("")}, code: CodeInvalidStatus, msg: "Invalid status: ''. Valid values: active, inactive, archived"},
		{name: "long brand", in: Input{SKU: "s", Title: "t", Brand: strPtr(strings.Repeat("b", 101))}, code: CodeValidation, msg: "Brand too long: 101 characters (max 100)"},
		{name: "long category", in: Input{SKU: "s", Title: "t", Category: strPtr(strings.Repeat("c", 101))}, code: CodeValidation, msg: "Category too long: 101 characters (max 100)"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			vs := v.Validate(tc.in)
			if len(vs) != 1 {
				t.Fatalf("violations=%+v, want 1", vs)
			}
			if vs[0].Code != tc.code || vs[0].Message != tc.msg {
				t.Fatalf("violation=%+v, want code=%s msg=%q", vs[0], tc.code, tc.msg)
			}
		})
	}

	if vs := v.Validate(Input{SKU: strings.Repeat("x", 100), Title: "t", Brand: strPtr("")}); vs != nil {
		t.Fatalf("boundary input violations=%+v, want none", vs)
	}
	// Length limits count characters, not bytes.
	if vs := v.Validate(Input{SKU: strings.Repeat("é", 100), Title: "t"}); vs != nil {
		t.Fatalf("multibyte sku violations=%+v, want none", vs)
	}
}

func TestService_GetRecord_NotFound(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)
	_, err := svc.GetRecord(context.Background(), 99)
	ae := (*Error)(nil)
	if !errors.As(err, &ae) || ae.Status != 404 || ae.Code != CodeNotFound {
		t.Fatalf("err=%v, want ITEM_NOT_FOUND 404", err)
	}
}

func TestService_ListRecords_InvalidInputs(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)
	cases := []struct {
		name   string
		in     ListInput
		status int
		code   string
	}{
		{name: "limit zero", in: ListInput{Limit: intPtr(0)}, status: 422, code: CodeValidation},
		{name: "limit too big", in: ListInput{Limit: intPtr(1001)}, status: 422, code: CodeValidation},
		{name: "bad status", in: ListInput{Status: strPtr("gone")}, status: 422, code: CodeValidation},
		{name: "empty cursor", in: ListInput{Cursor: strPtr("")}, status: 400, code: CodeInvalidCursor},
		{name: "garbage cursor", in: ListInput{Cursor: strPtr("!!!not-base64!!!")}, status: 400, code: CodeInvalidCursor},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.ListRecords(context.Background(), tc.in)
			ae := (*Error)(nil)
			if !errors.As(err, &ae) || ae.Status != tc.status || ae.Code != tc.code {
				t.Fatalf("err=%v, want %s %d", err, tc.code, tc.status)
			}
		})
	}

	_, err := svc.ListRecords(context.Background(), ListInput{Cursor: strPtr("")})
	if !strings.HasPrefix(err.Error(), "Invalid cursor format: ") {
		t.Fatalf("cursor message=%q", err.Error())
	}
}

func TestService_ListRecords_FetchOneExtra(t *testing.T) {
	t.Parallel()

	svc, _, clk, _ := newTestService(t)
	for i := 0; i < 3; i++ {
		if _, err := svc.CreateRecord(context.Background(), Input{SKU: fmt.Sprintf("S-%d", i), Title: "t"}); err != nil {
			t.Fatalf("CreateRecord err=%v", err)
		}
		clk.Advance(time.Second)
	}

	page, err := svc.ListRecords(context.Background(), ListInput{Limit: intPtr(2)})
	if err != nil {
		t.Fatalf("ListRecords err=%v", err)
	}
	if len(page.Items) != 2 || !page.HasMore || page.NextCursor == nil {
		t.Fatalf("page1=%+v", page)
	}
	pos, err := cursor.Decode(*page.NextCursor)
	if err != nil {
		t.Fatalf("Decode next cursor: %v", err)
	}
	if last := page.Items[1]; pos.ID != int64(last.ID) || !pos.CreatedAt.Equal(last.CreatedAt) {
		t.Fatalf("cursor=%+v, want last retained row %+v", pos, last)
	}

	page2, err := svc.ListRecords(context.Background(), ListInput{Limit: intPtr(2), Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("ListRecords page2 err=%v", err)
	}
	if len(page2.Items) != 1 || page2.HasMore || page2.NextCursor != nil {
		t.Fatalf("page2=%+v", page2)
	}

	exact, err := svc.ListRecords(context.Background(), ListInput{Limit: intPtr(3)})
	if err != nil {
		t.Fatalf("ListRecords exact err=%v", err)
	}
	if len(exact.Items) != 3 || exact.HasMore || exact.NextCursor != nil {
		t.Fatalf("exact page=%+v", exact)
	}
}

func TestService_ListRecords_NonDrift(t *testing.T) {
	t.Parallel()

	svc, _, clk, _ := newTestService(t)
	for i := 0; i < 4; i++ {
		if _, err := svc.CreateRecord(context.Background(), Input{SKU: fmt.Sprintf("OLD-%d", i), Title: "t"}); err != nil {
			t.Fatalf("CreateRecord err=%v", err)
		}
		clk.Advance(time.Second)
	}
	page1, err := svc.ListRecords(context.Background(), ListInput{Limit: intPtr(2)})
	if err != nil {
		t.Fatalf("ListRecords err=%v", err)
	}

	// New records sort above the issued cursor and must not leak into page 2.
	for i := 0; i < 3; i++ {
		if _, err := svc.CreateRecord(context.Background(), Input{SKU: fmt.Sprintf("NEW-%d", i), Title: "t"}); err != nil {
			t.Fatalf("CreateRecord err=%v", err)
		}
	}
	page2, err := svc.ListRecords(context.Background(), ListInput{Limit: intPtr(2), Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("ListRecords page2 err=%v", err)
	}
	got := []string{}
	for _, r := range page2.Items {
		got = append(got, r.SKU)
	}
	if strings.Join(got, ",") != "OLD-1,OLD-0" || page2.HasMore {
		t.Fatalf("page2=%v hasMore=%v, want OLD-1,OLD-0 and no more", got, page2.HasMore)
	}
}

func TestService_ListRecords_CompleteUnderSharedTimestamps(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		clk := memclock.NewManualClock(time.Unix(1_700_000_000, 0).UTC())
		repo := memrecordrepo.NewRepo(clk)
		svc := NewService(repo, nil, quietLogger())

		n := rapid.IntRange(0, 60).Draw(rt, "n")
		base := time.Unix(1_700_000_000, 0).UTC()
		statuses := []domain.RecordStatus{domain.RecordStatusActive, domain.RecordStatusInactive, domain.RecordStatusArchived}
		for i := 0; i < n; i++ {
			// Few distinct timestamps so many rows tie on created_at.
			offset := rapid.IntRange(0, 4).Draw(rt, "offset")
			st := statuses[rapid.IntRange(0, 2).Draw(rt, "status")]
			if err := repo.Insert(domain.Record{
				SKU:       fmt.Sprintf("SKU-%d", i),
				Title:     "t",
				Status:    st,
				CreatedAt: base.Add(time.Duration(offset) * time.Millisecond),
			}); err != nil {
				rt.Fatalf("seed: %v", err)
			}
		}

		var statusFilter *string
		if rapid.Bool().Draw(rt, "filtered") {
			s := string(statuses[rapid.IntRange(0, 2).Draw(rt, "filter")])
			statusFilter = &s
		}
		limit := rapid.IntRange(1, 7).Draw(rt, "limit")

		var want []domain.Record
		all, _ := svc.ListRecords(context.Background(), ListInput{Limit: intPtr(MaxPageLimit), Status: statusFilter})
		want = all.Items

		var (
			got  []domain.Record
			next *string
		)
		for pages := 0; ; pages++ {
			if pages > n+1 {
				rt.Fatalf("pagination did not terminate")
			}
			page, err := svc.ListRecords(context.Background(), ListInput{Limit: intPtr(limit), Cursor: next, Status: statusFilter})
			if err != nil {
				rt.Fatalf("ListRecords err=%v", err)
			}
			got = append(got, page.Items...)
			if !page.HasMore {
				if page.NextCursor != nil {
					rt.Fatalf("has_more=false with next_cursor set")
				}
				break
			}
			next = page.NextCursor
		}

		if len(got) != len(want) {
			rt.Fatalf("paged %d records, want %d", len(got), len(want))
		}
		seen := map[domain.RecordID]bool{}
		for i, r := range got {
			if seen[r.ID] {
				rt.Fatalf("duplicate id %d", r.ID)
			}
			seen[r.ID] = true
			if r.ID != want[i].ID {
				rt.Fatalf("position %d id=%d, want %d", i, r.ID, want[i].ID)
			}
			if statusFilter != nil && string(r.Status) != *statusFilter {
				rt.Fatalf("record %d status=%s escaped filter %s", r.ID, r.Status, *statusFilter)
			}
			if i > 0 {
				prev := got[i-1]
				ordered := prev.CreatedAt.After(r.CreatedAt) || (prev.CreatedAt.Equal(r.CreatedAt) && prev.ID > r.ID)
				if !ordered {
					rt.Fatalf("order violated between %d and %d", prev.ID, r.ID)
				}
			}
		}
	})
}
