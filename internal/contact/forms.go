package contact

import (
	"github.com/shineum/contactform/internal/email"
	"github.com/shineum/contactform/internal/form"
)

// ContactForm is a declared-field form that can compose and send itself as an
// email.
type ContactForm struct {
	*form.Form
	*Composer
}

// NewContactForm pairs f with a Composer.
func NewContactForm(f *form.Form, opts Options) *ContactForm {
	return &ContactForm{Form: f, Composer: NewComposer(f, opts)}
}

// ModelContactForm is a struct-declared form that can compose and send itself
// as an email.
type ModelContactForm[T any] struct {
	*form.ModelForm[T]
	*Composer
}

// NewModelForm pairs f with a Composer.
func NewModelForm[T any](f *form.ModelForm[T], opts Options) *ModelContactForm[T] {
	return &ModelContactForm[T]{ModelForm: f, Composer: NewComposer(f, opts)}
}

// Field names of the basic contact form.
const (
	FieldName    = "name"
	FieldSurname = "surname"
	FieldPhone   = "phone"
	FieldFax     = "fax"
	FieldEmail   = "email"
	FieldCity    = "city"
	FieldAddress = "address"
	FieldMessage = "message"
)

// BasicContactFields returns the field set of the basic contact form.
func BasicContactFields() []form.Field {
	return []form.Field{
		{Name: FieldName, Label: "Name", Kind: form.KindText, MaxLength: 100, Required: true},
		{Name: FieldSurname, Label: "Surname", Kind: form.KindText, MaxLength: 100, Required: true},
		{Name: FieldPhone, Label: "Phone", Kind: form.KindText, MaxLength: 100, Required: true},
		{Name: FieldFax, Label: "Fax", Kind: form.KindText, MaxLength: 100, Required: true},
		{Name: FieldEmail, Label: "Email", Kind: form.KindEmail, MaxLength: 200, Required: true},
		{Name: FieldCity, Label: "City", Kind: form.KindText, MaxLength: 100, Required: true},
		{Name: FieldAddress, Label: "Address", Kind: form.KindText, MaxLength: 100, Required: true},
		{Name: FieldMessage, Label: "Message", Kind: form.KindTextarea, Required: true},
	}
}

// NewBasicContactForm creates an unbound basic contact form whose messages
// carry a Reply-To header set to the submitter's address. A Headers hook in
// opts takes precedence.
func NewBasicContactForm(opts Options) *ContactForm {
	if opts.Headers == nil {
		opts.Headers = ReplyToSubmitter
	}
	return NewContactForm(form.New(BasicContactFields()...), opts)
}

// ReplyToSubmitter returns a Reply-To header holding the cleaned email field.
func ReplyToSubmitter(c *Composer) (map[string]string, error) {
	ctx, err := c.Context()
	if err != nil {
		return nil, err
	}
	addr, _ := ctx[FieldEmail].(string)
	return map[string]string{email.HeaderReplyTo: addr}, nil
}
