// Package validation holds the struct validator shared by request bodies and
// service inputs, with the custom tags of this API.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/apexcoding/apexcoding/internal/domain"
)

const usernameRegexString = `^[a-zA-Z0-9_-]{3,32}$`

var usernameRegex = regexp.MustCompile(usernameRegexString)

var defaultValidator = initValidator()

// initValidator creates the validator. Field names in errors are the json
// names when a field has one.
func initValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerValidation(v, "username", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	registerValidation(v, "projectstatus", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || domain.ProjectStatus(s).Valid()
	})
	return v
}

func registerValidation(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// Struct validates s and converts the first failure into a validation error.
func Struct(s any) error {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.Validationf("invalid request: %v", err)
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return domain.Validationf("%s is required", fe.Field())
	case "email":
		return domain.Validationf("%s must be a valid email address", fe.Field())
	case "min", "gte":
		return domain.Validationf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return domain.Validationf("%s must be at most %s", fe.Field(), fe.Param())
	case "username":
		return domain.Validationf("%s must be 3-32 letters, digits, '-' or '_'", fe.Field())
	case "projectstatus":
		return domain.Validationf("%s must be one of planning, active, maintained, archived", fe.Field())
	default:
		return domain.Validationf("%s is invalid", fe.Field())
	}
}
