package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/api/models"
	"github.com/flagplane/flagplane/internal/api/response"
	"github.com/flagplane/flagplane/internal/featureflags"
)

// FeatureFlagService is the flag service consumed by the HTTP layer.
type FeatureFlagService interface {
	GetAll(ctx context.Context) ([]*featureflags.FeatureFlag, error)
	GetByID(ctx context.Context, id string) (*featureflags.FeatureFlag, bool, error)
	GetByKey(ctx context.Context, key string) (*featureflags.FeatureFlag, bool, error)
	GetByTags(ctx context.Context, tags []string) ([]*featureflags.FeatureFlag, error)
	IsEnabled(ctx context.Context, key, environment string) (bool, error)
	Create(ctx context.Context, flag *featureflags.FeatureFlag) (*featureflags.FeatureFlag, error)
	Update(ctx context.Context, flag *featureflags.FeatureFlag) (*featureflags.FeatureFlag, error)
	Delete(ctx context.Context, id string) (bool, error)
	InvalidateCache()
}

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service FeatureFlagService
	logger  zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service FeatureFlagService, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, logger: logger}
}

// ListFeatureFlags handles GET /v1/feature-flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.service.GetAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, nonNil(flags))
}

// GetFeatureFlag handles GET /v1/feature-flags/{id}.
func (h *FeatureFlagsHandler) GetFeatureFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flag, found, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		response.NotFound(w, r, "feature flag "+id+" not found")
		return
	}
	response.JSON(w, r, http.StatusOK, flag)
}

// GetFeatureFlagByKey handles GET /v1/feature-flags/key/{key}.
func (h *FeatureFlagsHandler) GetFeatureFlagByKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	flag, found, err := h.service.GetByKey(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !found {
		response.NotFound(w, r, "feature flag with key "+key+" not found")
		return
	}
	response.JSON(w, r, http.StatusOK, flag)
}

// GetFeatureFlagStatus handles GET /v1/feature-flags/status/{key}. Unknown keys
// report enabled=false rather than 404 so clients can poll any key.
func (h *FeatureFlagsHandler) GetFeatureFlagStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	environment := featureflags.ResolveEnvironment(r.URL.Query().Get("environment"))

	enabled, err := h.service.IsEnabled(r.Context(), key, environment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.FlagStatus{
		Key:         key,
		Environment: environment,
		Enabled:     enabled,
	})
}

// ListFeatureFlagsByTags handles GET /v1/feature-flags/tags?tags=a,b.
func (h *FeatureFlagsHandler) ListFeatureFlagsByTags(w http.ResponseWriter, r *http.Request) {
	tags := parseTags(r.URL.Query())
	if len(tags) == 0 {
		response.BadRequest(w, r, "at least one tag is required", []models.FieldError{{
			Field:   "tags",
			Message: "at least one tag is required",
			Code:    "REQUIRED",
		}})
		return
	}

	flags, err := h.service.GetByTags(r.Context(), tags)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, nonNil(flags))
}

// CreateFeatureFlag handles POST /v1/feature-flags.
func (h *FeatureFlagsHandler) CreateFeatureFlag(w http.ResponseWriter, r *http.Request) {
	var flag featureflags.FeatureFlag
	if !response.DecodeJSON(w, r, &flag) {
		return
	}

	created, err := h.service.Create(r.Context(), &flag)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().
		Str("flag_id", created.ID).
		Str("flag", created.Key).
		Str("subject", GetSubject(r.Context())).
		Msg("feature flag created via API")
	response.Created(w, r, "/v1/feature-flags/"+url.PathEscape(created.ID), created)
}

// UpdateFeatureFlag handles PUT /v1/feature-flags/{id}.
func (h *FeatureFlagsHandler) UpdateFeatureFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var flag featureflags.FeatureFlag
	if !response.DecodeJSON(w, r, &flag) {
		return
	}
	if flag.ID == "" {
		flag.ID = id
	}
	if flag.ID != id {
		response.BadRequest(w, r, "body id does not match path id", []models.FieldError{{
			Field:   "id",
			Message: "must match the id in the path",
			Code:    "MISMATCH",
		}})
		return
	}

	updated, err := h.service.Update(r.Context(), &flag)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info().
		Str("flag_id", updated.ID).
		Str("flag", updated.Key).
		Str("subject", GetSubject(r.Context())).
		Msg("feature flag updated via API")
	response.JSON(w, r, http.StatusOK, updated)
}

// DeleteFeatureFlag handles DELETE /v1/feature-flags/{id}.
func (h *FeatureFlagsHandler) DeleteFeatureFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.service.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		response.NotFound(w, r, "feature flag "+id+" not found")
		return
	}

	h.logger.Info().
		Str("flag_id", id).
		Str("subject", GetSubject(r.Context())).
		Msg("feature flag deleted via API")
	response.NoContent(w, r)
}

// InvalidateCache handles POST /v1/feature-flags/cache/invalidate.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	response.NoContent(w, r)
}

// writeError maps service errors onto problem responses.
func (h *FeatureFlagsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *featureflags.ValidationError
	switch {
	case errors.As(err, &validationErr):
		response.BadRequest(w, r, "feature flag is invalid", validationErr.Errors)
	case errors.Is(err, featureflags.ErrFlagNotFound):
		response.NotFound(w, r, "feature flag not found")
	case errors.Is(err, featureflags.ErrDuplicateKey):
		response.Conflict(w, r, "a feature flag with this key already exists")
	case errors.Is(err, featureflags.ErrStorageUnavailable):
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("feature flag storage unavailable")
		response.ServiceUnavailable(w, r, "feature flag storage is unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.ServiceUnavailable(w, r, "request was cancelled")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("feature flag request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}

// parseTags reads comma-separated tags from every "tags" parameter, dropping
// blanks.
func parseTags(q url.Values) []string {
	var tags []string
	for _, raw := range q["tags"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

func nonNil(flags []*featureflags.FeatureFlag) []*featureflags.FeatureFlag {
	if flags == nil {
		return []*featureflags.FeatureFlag{}
	}
	return flags
}
