package utils

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidations attaches the service's extra binding rules to a
// validator engine. Called once at startup against gin's binding engine so
// DTO tags can use them.
func RegisterCustomValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("isemail", isValidEmail); err != nil {
		return err
	}
	return v.RegisterValidation("isphone", isValidPhone)
}

func isValidEmail(fl validator.FieldLevel) bool {
	email := strings.TrimSpace(fl.Field().String())
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isValidPhone(fl validator.FieldLevel) bool {
	phoneNumber := strings.TrimSpace(fl.Field().String())
	if len(phoneNumber) != 11 {
		return false
	}
	for _, char := range phoneNumber {
		if !unicode.IsDigit(char) {
			return false
		}
	}
	return true
}
