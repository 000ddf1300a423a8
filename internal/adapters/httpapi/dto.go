package httpapi

import (
	"time"

	"github.com/oapi-codegen/nullable"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/bulk"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/app/records"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
	"github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/idempotency"
)

type Item struct {
	ID        int64                     `json:"id"`
	SKU       string                    `json:"sku"`
	Title     string                    `json:"title"`
	Status    string                    `json:"status"`
	Brand     nullable.Nullable[string] `json:"brand"`
	Category  nullable.Nullable[string] `json:"category"`
	CreatedAt time.Time                 `json:"created_at"`
}

type ListItemsResponse struct {
	Items      []Item                    `json:"items"`
	NextCursor nullable.Nullable[string] `json:"next_cursor"`
	HasMore    bool                      `json:"has_more"`
}

type BulkRequest struct {
	Items []records.Input `json:"items"`
}

type BulkItemResult struct {
	Index        int    `json:"index"`
	Status       string `json:"status"`
	StatusCode   int    `json:"status_code"`
	Data         *Item  `json:"data,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Hint         string `json:"hint,omitempty"`
}

type BulkResponse struct {
	Total      int              `json:"total"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []BulkItemResult `json:"results"`
}

type BulkLimitsResponse struct {
	MaxItems     int    `json:"max_items"`
	MaxSizeMB    int    `json:"max_size_mb"`
	MaxSizeBytes int64  `json:"max_size_bytes"`
	Description  string `json:"description"`
}

type IdempotencyStatsResponse struct {
	TotalKeys      int  `json:"total_keys"`
	ExpiredKeys    int  `json:"expired_keys"`
	ProcessingKeys int  `json:"processing_keys"`
	CompletedKeys  int  `json:"completed_keys"`
	CleanupNeeded  bool `json:"cleanup_needed"`
}

func itemFromDomain(r domain.Record) Item {
	return Item{
		ID:        int64(r.ID),
		SKU:       r.SKU,
		Title:     r.Title,
		Status:    string(r.Status),
		Brand:     nullableString(r.Brand),
		Category:  nullableString(r.Category),
		CreatedAt: r.CreatedAt,
	}
}

func listResponseFromPage(p records.Page) ListItemsResponse {
	out := ListItemsResponse{
		Items:      make([]Item, 0, len(p.Items)),
		NextCursor: nullableString(p.NextCursor),
		HasMore:    p.HasMore,
	}
	for _, r := range p.Items {
		out.Items = append(out.Items, itemFromDomain(r))
	}
	return out
}

func bulkResponseFromResult(res bulk.Result) BulkResponse {
	out := BulkResponse{
		Total:      res.Total,
		Successful: res.Successful,
		Failed:     res.Failed,
		Results:    make([]BulkItemResult, 0, len(res.Results)),
	}
	for _, r := range res.Results {
		item := BulkItemResult{
			Index:        r.Index,
			Status:       string(r.Status),
			StatusCode:   r.StatusCode,
			ErrorCode:    r.ErrorCode,
			ErrorMessage: r.ErrorMessage,
			Hint:         r.Hint,
		}
		if r.Record != nil {
			data := itemFromDomain(*r.Record)
			item.Data = &data
		}
		out.Results = append(out.Results, item)
	}
	return out
}

func bulkLimitsFromDomain(l bulk.Limits) BulkLimitsResponse {
	return BulkLimitsResponse{
		MaxItems:     l.MaxItems,
		MaxSizeMB:    l.MaxSizeMB,
		MaxSizeBytes: l.MaxSizeBytes(),
		Description:  l.Description(),
	}
}

func statsFromDomain(s idempotency.Stats) IdempotencyStatsResponse {
	return IdempotencyStatsResponse{
		TotalKeys:      s.Total,
		ExpiredKeys:    s.Expired,
		ProcessingKeys: s.Processing,
		CompletedKeys:  s.Completed,
		CleanupNeeded:  s.Expired > 0,
	}
}

// nullableString renders nil as an explicit JSON null.
func nullableString(p *string) nullable.Nullable[string] {
	var out nullable.Nullable[string]
	if p != nil {
		out.Set(*p)
	} else {
		out.SetNull()
	}
	return out
}
