package featureflags

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/flagplane/flagplane/internal/api/models"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func flagValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
	return validate
}

// Validate checks a flag before it is written to storage.
func Validate(flag *FeatureFlag) error {
	if flag == nil {
		return &ValidationError{Errors: []models.FieldError{
			{Field: "flag", Message: "Feature flag is required", Code: "REQUIRED"},
		}}
	}

	err := flagValidator().Struct(flag)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fieldErrors := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fieldErrors = append(fieldErrors, toFieldError(fe))
	}
	return &ValidationError{Errors: fieldErrors}
}

func toFieldError(fe validator.FieldError) models.FieldError {
	// Namespace is "FeatureFlag.environmentConfigs[0].environment"; drop the root.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch {
	case fe.Tag() == "notblank" && field == "name":
		return models.FieldError{Field: field, Message: "Feature flag name is required", Code: "REQUIRED"}
	case fe.Tag() == "notblank" && field == "key":
		return models.FieldError{Field: field, Message: "Feature flag key is required", Code: "REQUIRED"}
	case fe.Tag() == "notblank":
		return models.FieldError{Field: field, Message: fmt.Sprintf("%s is required", field), Code: "REQUIRED"}
	case fe.Tag() == "min" || fe.Tag() == "max":
		return models.FieldError{Field: field, Message: fmt.Sprintf("%s must be between 0 and 100", field), Code: "OUT_OF_RANGE"}
	case fe.Tag() == "oneof":
		return models.FieldError{Field: field, Message: fmt.Sprintf("%s must be one of %s", field, fe.Param()), Code: "INVALID_VALUE"}
	default:
		return models.FieldError{Field: field, Message: fmt.Sprintf("%s is invalid", field), Code: "INVALID"}
	}
}
