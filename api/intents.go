package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/signupslots/internal/auth"
	"github.com/Domenick1991/signupslots/internal/conversation"
	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/service/forms"
	"github.com/Domenick1991/signupslots/internal/service/slots"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	IntentCreateForm     = "create_form"
	IntentAddSchedule    = "add_schedule"
	IntentRemoveSchedule = "remove_schedule"
	IntentPublish        = "publish"
)

type ConversationStore interface {
	Load(ctx context.Context, ownerID string) (*conversation.State, error)
	Save(ctx context.Context, state *conversation.State) error
	Clear(ctx context.Context, ownerID string) error
	MaxTurns() int
}

// IntentHandler applies already-structured chat intents to the owner's
// active draft, remembered in the conversation state.
type IntentHandler struct {
	conversations ConversationStore
	forms         forms.FormUseCase
	slots         slots.SlotUseCase
}

type intentRequest struct {
	Intent   string                 `json:"intent" binding:"required"`
	Message  string                 `json:"message"`
	FormID   *uuid.UUID             `json:"form_id"`
	Form     *forms.CreateFormInput `json:"form"`
	Schedule *domain.RecurrenceSpec `json:"schedule"`
	Removal  *domain.RemovalSpec    `json:"removal"`
}

type intentResponse struct {
	Intent  string     `json:"intent"`
	FormID  *uuid.UUID `json:"form_id,omitempty"`
	Summary string     `json:"summary"`
	Result  any        `json:"result,omitempty"`
}

func NewIntentHandler(conversations ConversationStore, forms forms.FormUseCase, slots slots.SlotUseCase) *IntentHandler {
	return &IntentHandler{conversations: conversations, forms: forms, slots: slots}
}

func (h *IntentHandler) Register(router *gin.RouterGroup) {
	router.POST("/intents", h.apply)
	router.GET("/intents/state", h.state)
	router.DELETE("/intents/state", h.reset)
}

func (h *IntentHandler) apply(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	ownerID := auth.OwnerID(c)

	state, err := h.conversations.Load(ctx, ownerID)
	if err != nil {
		writeError(c, &domain.TransientStoreError{Op: "load conversation", Err: err})
		return
	}
	if req.FormID != nil {
		state.ActiveFormID = req.FormID
	}

	resp, err := h.dispatch(ctx, ownerID, state, req)
	if err != nil {
		writeError(c, err)
		return
	}

	now := time.Now().UTC()
	if req.Message != "" {
		state.Append(conversation.Turn{Role: "user", Content: req.Message, At: now}, h.conversations.MaxTurns())
	}
	state.Append(conversation.Turn{Role: "assistant", Content: resp.Summary, At: now}, h.conversations.MaxTurns())
	if err := h.conversations.Save(ctx, state); err != nil {
		writeError(c, &domain.TransientStoreError{Op: "save conversation", Err: err})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *IntentHandler) dispatch(ctx context.Context, ownerID string, state *conversation.State, req intentRequest) (*intentResponse, error) {
	resp := &intentResponse{Intent: req.Intent}

	if req.Intent == IntentCreateForm {
		if req.Form == nil {
			return nil, domain.InvalidSpec("form", "create_form needs a form")
		}
		input := *req.Form
		input.OwnerID = ownerID
		created, err := h.forms.Create(ctx, input)
		if err != nil {
			return nil, err
		}
		state.ActiveFormID = &created.Form.ID
		resp.FormID = &created.Form.ID
		resp.Result = created
		resp.Summary = fmt.Sprintf("Created draft %q.", created.Form.Title)
		if created.Schedule != nil {
			resp.Summary += " " + created.Schedule.Summary()
		}
		return resp, nil
	}

	if state.ActiveFormID == nil {
		return nil, domain.InvalidSpec("form_id", "no active form, create one first or pass form_id")
	}
	form, err := h.forms.Get(ctx, ownerID, *state.ActiveFormID)
	if err != nil {
		return nil, err
	}
	resp.FormID = &form.ID

	switch req.Intent {
	case IntentAddSchedule:
		if req.Schedule == nil {
			return nil, domain.InvalidSpec("schedule", "add_schedule needs a schedule")
		}
		result, err := h.slots.AddSchedule(ctx, form.ID, *req.Schedule)
		if err != nil {
			return nil, err
		}
		resp.Result, resp.Summary = result, result.Summary()
	case IntentRemoveSchedule:
		if req.Removal == nil {
			return nil, domain.InvalidSpec("removal", "remove_schedule needs a removal")
		}
		result, err := h.slots.RemoveSchedule(ctx, form.ID, *req.Removal)
		if err != nil {
			return nil, err
		}
		resp.Result, resp.Summary = result, result.Summary()
	case IntentPublish:
		published, err := h.forms.Publish(ctx, ownerID, form.ID)
		if err != nil {
			return nil, err
		}
		resp.Result, resp.Summary = published, fmt.Sprintf("Published %q.", published.Title)
	default:
		return nil, domain.InvalidSpec("intent", "unknown intent %q", req.Intent)
	}
	return resp, nil
}

func (h *IntentHandler) state(c *gin.Context) {
	state, err := h.conversations.Load(c.Request.Context(), auth.OwnerID(c))
	if err != nil {
		writeError(c, &domain.TransientStoreError{Op: "load conversation", Err: err})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *IntentHandler) reset(c *gin.Context) {
	if err := h.conversations.Clear(c.Request.Context(), auth.OwnerID(c)); err != nil {
		writeError(c, &domain.TransientStoreError{Op: "clear conversation", Err: err})
		return
	}
	c.Status(http.StatusNoContent)
}
