package utils

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contactForm struct {
	Email string `validate:"isemail"`
	Phone string `validate:"isphone"`
}

func TestRegisterCustomValidations(t *testing.T) {
	v := validator.New()
	require.NoError(t, RegisterCustomValidations(v))

	assert.NoError(t, v.Struct(contactForm{Email: "ops@example.com", Phone: "05551234567"}))

	assert.Error(t, v.Struct(contactForm{Email: "not-an-address", Phone: "05551234567"}))
	assert.Error(t, v.Struct(contactForm{Email: "ops@example.com", Phone: "1234"}), "too short")
	assert.Error(t, v.Struct(contactForm{Email: "ops@example.com", Phone: "0555123456a"}), "non-digit")
	assert.Error(t, v.Struct(contactForm{Email: " ops@example.com ", Phone: "0555 123456"}), "inner whitespace")
}
