package bulk

import "fmt"

const (
	DefaultMaxItems  = 1000
	DefaultMaxSizeMB = 10

	bytesPerMB = 1024 * 1024
)

const (
	CodeRequestTooLarge = "REQUEST_TOO_LARGE"
	CodeTooManyItems    = "TOO_MANY_ITEMS"
	CodeEmptyItems      = "EMPTY_ITEMS"
)

type Limits struct {
	MaxItems  int
	MaxSizeMB int
}

func DefaultLimits() Limits {
	return Limits{MaxItems: DefaultMaxItems, MaxSizeMB: DefaultMaxSizeMB}
}

func (l Limits) MaxSizeBytes() int64 {
	return int64(l.MaxSizeMB) * bytesPerMB
}

func (l Limits) Description() string {
	return fmt.Sprintf("Bulk operations support up to %d items and %dMB request size", l.MaxItems, l.MaxSizeMB)
}

// AnchorError fails a whole batch before any item is processed.
type AnchorError struct {
	Status  int
	Code    string
	Message string
}

func (e *AnchorError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// CheckSize rejects a serialized request larger than the size limit.
func (l Limits) CheckSize(sizeBytes int64) error {
	if sizeBytes > l.MaxSizeBytes() {
		return &AnchorError{
			Status:  413,
			Code:    CodeRequestTooLarge,
			Message: fmt.Sprintf("Request too large: %.1fMB (max %dMB)", float64(sizeBytes)/bytesPerMB, l.MaxSizeMB),
		}
	}
	return nil
}

// CheckCount rejects an empty batch or one with more than MaxItems items.
func (l Limits) CheckCount(n int) error {
	if n > l.MaxItems {
		return &AnchorError{
			Status:  400,
			Code:    CodeTooManyItems,
			Message: fmt.Sprintf("Too many items: %d (max %d)", n, l.MaxItems),
		}
	}
	if n == 0 {
		return &AnchorError{
			Status:  400,
			Code:    CodeEmptyItems,
			Message: "Items array cannot be empty",
		}
	}
	return nil
}

// Check applies the size anchor first, then the count anchor.
func (l Limits) Check(count int, sizeBytes int64) error {
	if err := l.CheckSize(sizeBytes); err != nil {
		return err
	}
	return l.CheckCount(count)
}
