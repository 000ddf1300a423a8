package records

// Error is an application-layer error that can be mapped to an HTTP response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeTitleRequired = "TITLE_REQUIRED"
	CodeSKUTooLong    = "SKU_TOO_LONG"
	CodeInvalidStatus = "INVALID_STATUS"
	CodeDuplicateSKU  = "DUPLICATE_SKU"
	CodeNotFound      = "ITEM_NOT_FOUND"
	CodeInvalidCursor = "INVALID_CURSOR"
)
