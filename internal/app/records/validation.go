package records

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/domain"
)

const (
	MaxSKULength      = 100
	MaxTitleLength    = 255
	MaxBrandLength    = 100
	MaxCategoryLength = 100
)

// Input is a record-creation request as submitted by a client.
type Input struct {
	SKU      string  `json:"sku" validate:"notblank,max=100"`
	Title    string  `json:"title" validate:"notblank,max=255"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive archived"`
	Brand    *string `json:"brand,omitempty" validate:"omitempty,max=100"`
	Category *string `json:"category,omitempty" validate:"omitempty,max=100"`
}

// Violation is one failed field rule, classified for bulk results.
type Violation struct {
	Field   string
	Code    string
	Message string
}

// Validator checks Input field rules. It is safe for concurrent use.
type Validator struct {
	v *validatorv10.Validate
}

func NewValidator() *Validator {
	v := validatorv10.New()
	_ = v.RegisterValidation("notblank", notBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

func notBlank(fl validatorv10.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validate returns the violations for in in field order; nil means valid.
func (val *Validator) Validate(in Input) []Violation {
	err := val.v.Struct(in)
	if err == nil {
		return nil
	}
	var ves validatorv10.ValidationErrors
	if !errors.As(err, &ves) {
		return []Violation{{Code: CodeValidation, Message: err.Error()}}
	}
	out := make([]Violation, 0, len(ves))
	for _, fe := range ves {
		out = append(out, classify(in, fe))
	}
	return out
}

func classify(in Input, fe validatorv10.FieldError) Violation {
	field := fe.Field()
	switch field {
	case "sku":
		if fe.Tag() == "max" {
			return Violation{Field: field, Code: CodeSKUTooLong, Message: tooLong("SKU", in.SKU, MaxSKULength)}
		}
		return Violation{Field: field, Code: CodeValidation, Message: "SKU is required"}
	case "title":
		if fe.Tag() == "max" {
			return Violation{Field: field, Code: CodeValidation, Message: tooLong("Title", in.Title, MaxTitleLength)}
		}
		return Violation{Field: field, Code: CodeTitleRequired, Message: "Title is required"}
	case "status":
		return Violation{Field: field, Code: CodeInvalidStatus, Message: fmt.Sprintf("Invalid status: '%s'. Valid values: %s", deref(in.Status), statusList())}
	case "brand":
		return Violation{Field: field, Code: CodeValidation, Message: tooLong("Brand", deref(in.Brand), MaxBrandLength)}
	case "category":
		return Violation{Field: field, Code: CodeValidation, Message: tooLong("Category", deref(in.Category), MaxCategoryLength)}
	}
	return Violation{Field: field, Code: CodeValidation, Message: fe.Error()}
}

func tooLong(label, v string, limit int) string {
	return fmt.Sprintf("%s too long: %d characters (max %d)", label, utf8.RuneCountInString(v), limit)
}

func statusList() string {
	s := make([]string, 0, len(domain.RecordStatuses))
	for _, st := range domain.RecordStatuses {
		s = append(s, string(st))
	}
	return strings.Join(s, ", ")
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// violationsError builds the single-record 422 response for vs.
func violationsError(vs []Violation) *Error {
	details := make(map[string]any, len(vs))
	for _, v := range vs {
		if _, ok := details[v.Field]; !ok {
			details[v.Field] = v.Message
		}
	}
	return &Error{
		Status:  422,
		Code:    CodeValidation,
		Message: vs[0].Message,
		Details: details,
	}
}

// status returns the requested status; absent means active.
func (in Input) status() domain.RecordStatus {
	if in.Status == nil {
		return domain.RecordStatusActive
	}
	return domain.RecordStatus(*in.Status)
}
