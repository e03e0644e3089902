package core

import (
	"errors"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"adoptnotify/internal/types"
)

// notificationTypePattern matches notification_configs keys such as
// "adoption_outcome".
var notificationTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Validator wraps go-playground/validator with the admin API's custom tags
// and reports failures as AppErrors keyed by JSON field name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator registers custom tags:
//   - notification_type: lowercase snake identifier
//   - animal_id: non-blank after trimming
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = v.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
		return notificationTypePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("animal_id", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s. The first failing field decides the error
// code; every failure is listed in Details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}

	first := verrs[0]
	code := types.ErrCodeValidationInvalidPayload
	msg := "invalid value for " + first.Field()
	switch first.Tag() {
	case "required", "animal_id":
		code = types.ErrCodeValidationMissingField
		msg = first.Field() + " is required"
	case "email":
		code = types.ErrCodeValidationInvalidEmail
	case "oneof":
		code = types.ErrCodeValidationInvalidAction
		msg = first.Field() + " must be one of: " + first.Param()
	}

	return types.NewAppErrorWithDetails(code, msg, err, map[string]any{"fields": fields})
}
