package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMissingField is matched by every ValidationError.
var ErrMissingField = errors.New("required field is missing")

// ValidationError reports the first missing form field.
type ValidationError struct {
	// Field is the form field name, e.g. "first_name".
	Field string
	// Label is the human readable field name.
	Label   string
	consent bool
}

func (e *ValidationError) Error() string {
	if e.consent {
		return "You must accept the " + e.Label
	}
	return e.Label + " is required"
}

// Is matches ErrMissingField.
func (e *ValidationError) Is(target error) bool {
	return target == ErrMissingField
}

// LoginForm is the login form. Presence only; the provider validates formats.
type LoginForm struct {
	Email    string `form:"email" label:"Email" validate:"required"`
	Password string `form:"password" label:"Password" validate:"required"`
}

// SignUpForm is the signup form.
type SignUpForm struct {
	FirstName   string `form:"first_name" label:"First name" validate:"required"`
	LastName    string `form:"last_name" label:"Last name" validate:"required"`
	Email       string `form:"email" label:"Email" validate:"required"`
	Password    string `form:"password" label:"Password" validate:"required"`
	AcceptTerms bool   `form:"terms" label:"Terms of Service" validate:"required"`
}

// RecoverForm is the forgot-password form.
type RecoverForm struct {
	Email string `form:"email" label:"Email" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("form")
	})
	return v
}

// validateForm trims string fields of form (a struct pointer) and checks required ones.
func validateForm(form interface{}) error {
	trimStrings(form)
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	first := verrs[0]
	label := first.Field()
	t := reflect.TypeOf(form).Elem()
	if f, ok := t.FieldByName(first.StructField()); ok {
		label = f.Tag.Get("label")
	}
	return &ValidationError{Field: first.Field(), Label: label, consent: first.Kind() == reflect.Bool}
}

// trimStrings trims surrounding space of every string field except passwords.
func trimStrings(form interface{}) {
	v := reflect.ValueOf(form).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() != reflect.String || !f.CanSet() || t.Field(i).Name == "Password" {
			continue
		}
		f.SetString(strings.TrimSpace(f.String()))
	}
}
