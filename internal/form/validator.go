package form

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// defaultValidator is shared by all forms; validator.Validate caches struct
// metadata and is safe for concurrent use.
var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(fieldName)
	return v
}

// fieldName reports a struct field by its schema tag so that errors are keyed
// the same way as the submitted values. "-" marks a skipped field.
func fieldName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("schema"), ",")
	if name == "" {
		return sf.Name
	}
	return name
}
