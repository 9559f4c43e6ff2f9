package featureflags

import (
	"errors"
	"strings"

	"github.com/flagplane/flagplane/internal/api/models"
)

var (
	// ErrFlagNotFound is returned when no feature flag matches an id or key.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrDuplicateKey is returned when another flag already owns the key.
	ErrDuplicateKey = errors.New("feature flag key already exists")

	// ErrStorageUnavailable is returned when the storage backend cannot be reached.
	ErrStorageUnavailable = errors.New("feature flag storage unavailable")
)

// ValidationError represents validation errors.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
