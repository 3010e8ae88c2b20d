// Package validation configures the shared go-playground validator used for
// request payloads and domain entities.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"pharmacy-market/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// New returns a validator with the marketplace's custom tags registered:
//
//	alphaspace  letters and spaces only
//	role        one of admin, seller, buyer
//	phone       optional leading +, then 7 to 15 digits
//
// decimal.Decimal fields are validated as float64 so numeric tags like gte work.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("alphaspace", func(fl validator.FieldLevel) bool {
		return IsAlphaSpace(fl.Field().String())
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return domain.Role(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})

	return v
}

// IsAlphaSpace reports whether s is non-empty and made only of letters and spaces.
func IsAlphaSpace(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != ' ' {
			return false
		}
	}
	return true
}

// Message returns a readable message for a failed validation tag.
func Message(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "gte":
		return "Value must be greater than or equal to " + e.Param()
	case "lte":
		return "Value must be less than or equal to " + e.Param()
	case "gt":
		return "Value must be greater than " + e.Param()
	case "lt":
		return "Value must be less than " + e.Param()
	case "alphaspace":
		return "Only letters and spaces are allowed"
	case "role":
		return "This role is not valid"
	case "phone":
		return "Invalid phone number"
	case "oneof":
		return "Value must be one of: " + e.Param()
	case "datetime":
		return "Value must be a date formatted as " + e.Param()
	case "uuid", "uuid4":
		return "Value must be a valid UUID"
	case "dive":
		return "Invalid list entry"
	default:
		return "Invalid value"
	}
}

// ToDomain converts validator errors into domain.ValidationErrors. Other errors
// are returned unchanged.
func ToDomain(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(domain.ValidationErrors, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, domain.FieldError{Field: e.Field(), Message: Message(e)})
	}
	return out
}
