package app

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/neomorfeo/tenantops/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs struct tag validation and reports the first failure
// as a *domain.ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	field := snakeCase(fe.Field())

	var message string
	switch fe.Tag() {
	case "required":
		message = "is required"
	case "email":
		message = "must be a valid email address"
	case "min", "gte":
		message = fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		message = fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		message = fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		message = fmt.Sprintf("must be one of %s", fe.Param())
	case "ne":
		message = "must not be the masked placeholder"
	case "hostname_rfc1123|ip":
		message = "must be a hostname or IP address"
	default:
		message = fmt.Sprintf("failed validation for %s", fe.Tag())
	}

	return &domain.ValidationError{Field: field, Message: message}
}

// snakeCase turns a Go field name into the form used on the wire:
// SubscriptionID becomes subscription_id.
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
