// Package validate holds the request validator shared by every handler.
package validate

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const notBlankTag = "notblank"

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the process-wide validator. Field names in errors follow
// the json tag of the struct field.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation(notBlankTag, notBlank)
		instance = v
	})
	return instance
}

// Struct validates s and flattens failures into field -> tag pairs.
// It returns nil when s is valid.
func Struct(s interface{}) map[string]string {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = describe(fe)
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", notBlankTag:
		return "مطلوب"
	case "min":
		return "أقل من الحد الأدنى " + fe.Param()
	case "max":
		return "أكبر من الحد الأقصى " + fe.Param()
	case "oneof":
		return "قيمة غير مسموح بها"
	case "url":
		return "رابط غير صالح"
	case "e164", "phone":
		return "رقم هاتف غير صالح"
	default:
		return fe.Tag()
	}
}

func notBlank(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}
