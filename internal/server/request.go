package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report fields by their JSON names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// MaskRequest is the body of POST /api/mask
type MaskRequest struct {
	TransactionID string `json:"transaction_id" validate:"required,max=128"`
	PayloadTxt    string `json:"payload_txt" validate:"required"`
}

// MaskResponse is returned for a successfully masked payload
type MaskResponse struct {
	TransactionID string `json:"transaction_id"`
	MaskedPayload string `json:"masked_payload"`
	PayloadType   string `json:"payload_type"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func validateMaskRequest(req *MaskRequest) error {
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	for _, e := range validationErrs {
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", e.Field())
		case "max":
			return fmt.Errorf("%s: must not exceed %s characters", e.Field(), e.Param())
		default:
			return fmt.Errorf("%s: validation failed (%s)", e.Field(), e.Tag())
		}
	}
	return err
}
