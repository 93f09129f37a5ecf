package form

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
)

var decoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

// ModelForm is a form whose fields are declared by the struct T. Submitted
// values are decoded using `schema` tags and validated using `validate` tags:
//
//	type Enquiry struct {
//		Email   string `schema:"email" validate:"required,email"`
//		Message string `schema:"message" validate:"required"`
//	}
//
// T must be a struct type.
type ModelForm[T any] struct {
	validate *validator.Validate

	data      url.Values
	bound     bool
	validated bool
	instance  T
	errors    map[string][]string
}

// NewModelForm creates an unbound form for T.
func NewModelForm[T any]() *ModelForm[T] {
	return &ModelForm[T]{validate: defaultValidator}
}

// Bind attaches submitted values and resets any previous validation result.
func (f *ModelForm[T]) Bind(values url.Values) {
	f.data = values
	f.bound = true
	f.validated = false
	f.errors = nil
	var zero T
	f.instance = zero
}

// IsBound reports whether values have been attached.
func (f *ModelForm[T]) IsBound() bool {
	return f.bound
}

// IsValid decodes and validates on first call. An unbound form is never valid.
func (f *ModelForm[T]) IsValid() bool {
	if !f.bound {
		return false
	}
	if !f.validated {
		f.clean()
	}
	return len(f.errors) == 0
}

// Instance returns the decoded struct and true if the form is valid.
func (f *ModelForm[T]) Instance() (T, bool) {
	if !f.IsValid() {
		var zero T
		return zero, false
	}
	return f.instance, true
}

// CleanedData returns the struct's fields keyed by their schema names, or nil
// if the form has not been successfully validated.
func (f *ModelForm[T]) CleanedData() map[string]any {
	if !f.IsValid() {
		return nil
	}
	rv := reflect.ValueOf(f.instance)
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := fieldName(sf)
		if name == "-" {
			continue
		}
		out[name] = rv.Field(i).Interface()
	}
	return out
}

// Errors returns field-level error messages, validating first if needed.
func (f *ModelForm[T]) Errors() map[string][]string {
	f.IsValid()
	return f.errors
}

func (f *ModelForm[T]) clean() {
	f.validated = true
	errs := make(map[string][]string)

	trimmed := make(url.Values, len(f.data))
	for k, vs := range f.data {
		for _, v := range vs {
			trimmed.Add(k, strings.TrimSpace(v))
		}
	}

	var instance T
	if err := decoder.Decode(&instance, trimmed); err != nil {
		var multi schema.MultiError
		if !errors.As(err, &multi) {
			errs[nonFieldErrors] = []string{err.Error()}
			f.errors = errs
			return
		}
		for key := range multi {
			errs[key] = append(errs[key], "Enter a valid value.")
		}
	}

	if err := f.validate.Struct(instance); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs[nonFieldErrors] = append(errs[nonFieldErrors], err.Error())
		}
		for _, fe := range verrs {
			if _, decodeFailed := errs[fe.Field()]; decodeFailed {
				continue
			}
			errs[fe.Field()] = append(errs[fe.Field()], message(fe))
		}
	}

	if len(errs) > 0 {
		f.errors = errs
		return
	}
	f.instance = instance
}

// nonFieldErrors keys errors that do not belong to a single field.
const nonFieldErrors = "__all__"
