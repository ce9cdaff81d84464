package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type testPayload struct {
	DisplayName string `json:"display_name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"min=8"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Password:    "Str0ngPass!",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		DisplayName: "",
		Email:       "invalid",
		Password:    "short",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}

	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("hearth", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "hearth"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"hearth"`
	}

	if err := ValidateStruct(custom{Value: "hearth"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}

func TestOTPValidation(t *testing.T) {
	type payload struct {
		Code string `json:"code" validate:"required,otp"`
	}

	if err := ValidateStruct(payload{Code: "123456"}); err != nil {
		t.Fatalf("expected six digits to pass, got %v", err)
	}
	for _, code := range []string{"12345", "1234567", "12a456"} {
		if err := ValidateStruct(payload{Code: code}); err == nil {
			t.Fatalf("expected %q to fail validation", code)
		}
	}
}
