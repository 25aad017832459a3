package httpserver

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/pscheid92/orderpulse/internal/platform/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validatePayload checks the validate tags on req and reports the first
// failing field by its JSON name.
func validatePayload(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.ValidationError("invalid request body")
	}

	fe := fieldErrs[0]
	if fe.Tag() == "required" {
		return apperrors.ValidationError(fe.Field()+" is required").WithField("field", fe.Field())
	}
	return apperrors.ValidationError(fe.Field()+" is invalid").WithField("field", fe.Field())
}
