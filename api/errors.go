package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error     string      `json:"error"`
	Code      string      `json:"code"`
	Field     string      `json:"field,omitempty"`
	SlotIDs   []uuid.UUID `json:"slot_ids,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// writeError maps domain errors to HTTP responses. Conflicts name the exact
// slots involved so the page can re-render availability.
func writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func errorBody(err error) (int, errorResponse) {
	var (
		invalid     *domain.InvalidSpecError
		exceeded    *domain.CapacityExceededError
		notInForm   *domain.SlotNotInFormError
		unavailable *domain.CapacityUnavailableError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, errorResponse{Error: invalid.Error(), Code: "invalid_spec", Field: invalid.Field}
	case errors.As(err, &exceeded):
		return http.StatusUnprocessableEntity, errorResponse{Error: exceeded.Error(), Code: "capacity_exceeded"}
	case errors.As(err, &notInForm):
		return http.StatusBadRequest, errorResponse{Error: notInForm.Error(), Code: "slot_not_in_form", SlotIDs: notInForm.SlotIDs}
	case errors.As(err, &unavailable):
		return http.StatusConflict, errorResponse{Error: unavailable.Error(), Code: "capacity_unavailable", SlotIDs: unavailable.SlotIDs}
	case errors.Is(err, domain.ErrFormNotEditable):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "form_not_editable"}
	case errors.Is(err, domain.ErrFormClosed):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "form_closed"}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_transition"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"}
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable, errorResponse{Error: "storage is busy, retry the request", Code: "transient", Retryable: true}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"}
	}
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "bad_request"})
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid " + name, Code: "bad_request"})
		return uuid.Nil, false
	}
	return id, true
}
