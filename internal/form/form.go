// Package form implements bound, validated HTML form data.
//
// A form goes through a single lifecycle: it is created unbound, receives raw
// submitted values through Bind, and is validated once by the first call to
// IsValid. Cleaned data is only available after validation succeeds.
package form

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind identifies how a field's value is validated and rendered.
type Kind int

const (
	// KindText is a single-line text input.
	KindText Kind = iota
	// KindEmail is a single-line input that must hold an email address.
	KindEmail
	// KindTextarea is a multi-line text input.
	KindTextarea
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindEmail:
		return "email"
	case KindTextarea:
		return "textarea"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field declares one form input. A MaxLength of zero means unlimited.
type Field struct {
	Name      string
	Label     string
	Kind      Kind
	MaxLength int
	Required  bool
}

// tags returns the validator tag expression for the field.
func (fd Field) tags() string {
	parts := []string{"omitempty"}
	if fd.Required {
		parts[0] = "required"
	}
	if fd.MaxLength > 0 {
		parts = append(parts, "max="+strconv.Itoa(fd.MaxLength))
	}
	if fd.Kind == KindEmail {
		parts = append(parts, "email")
	}
	return strings.Join(parts, ",")
}

// Form is a set of declared fields plus the values submitted for them.
// A Form is used for a single request and is not safe for concurrent use.
type Form struct {
	fields   []Field
	validate *validator.Validate

	data      url.Values
	bound     bool
	validated bool
	cleaned   map[string]any
	errors    map[string][]string
}

// New creates an unbound form with the given fields, in display order.
func New(fields ...Field) *Form {
	return &Form{
		fields:   append([]Field(nil), fields...),
		validate: defaultValidator,
	}
}

// Fields returns the declared fields in order.
func (f *Form) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

// Bind attaches submitted values and resets any previous validation result.
func (f *Form) Bind(values url.Values) {
	f.data = values
	f.bound = true
	f.validated = false
	f.cleaned = nil
	f.errors = nil
}

// IsBound reports whether values have been attached.
func (f *Form) IsBound() bool {
	return f.bound
}

// Value returns the raw submitted value for name.
func (f *Form) Value(name string) string {
	return f.data.Get(name)
}

// IsValid runs validation on first call and reports whether the bound data is
// valid. An unbound form is never valid.
func (f *Form) IsValid() bool {
	if !f.bound {
		return false
	}
	if !f.validated {
		f.clean()
	}
	return len(f.errors) == 0
}

// CleanedData returns the trimmed, validated values keyed by field name, or
// nil if the form has not been successfully validated.
func (f *Form) CleanedData() map[string]any {
	if !f.IsValid() {
		return nil
	}
	out := make(map[string]any, len(f.cleaned))
	for k, v := range f.cleaned {
		out[k] = v
	}
	return out
}

// Errors returns field-level error messages, validating first if needed.
func (f *Form) Errors() map[string][]string {
	f.IsValid()
	return f.errors
}

func (f *Form) clean() {
	cleaned := make(map[string]any, len(f.fields))
	errs := make(map[string][]string)

	for _, fd := range f.fields {
		value := strings.TrimSpace(f.data.Get(fd.Name))

		if err := f.validate.Var(value, fd.tags()); err != nil {
			errs[fd.Name] = append(errs[fd.Name], messages(err)...)
			continue
		}
		cleaned[fd.Name] = value
	}

	f.validated = true
	if len(errs) > 0 {
		f.errors = errs
		return
	}
	f.cleaned = cleaned
}

// messages converts validator errors to user-facing text.
func messages(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, message(fe))
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "email":
		return "Enter a valid email address."
	default:
		return fmt.Sprintf("Failed on the %q check.", fe.Tag())
	}
}
