package api

import (
	"net/http"

	"github.com/Domenick1991/signupslots/internal/auth"
	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/service/forms"
	"github.com/Domenick1991/signupslots/internal/service/slots"
	"github.com/gin-gonic/gin"
)

// FormHandler serves the owner routes. Every route requires auth.Middleware.
type FormHandler struct {
	forms forms.FormUseCase
	slots slots.SlotUseCase
}

type scheduleResponse struct {
	domain.AddResult
	Summary string `json:"summary"`
}

type removalResponse struct {
	domain.RemovalResult
	Summary string `json:"summary"`
}

func NewFormHandler(forms forms.FormUseCase, slots slots.SlotUseCase) *FormHandler {
	return &FormHandler{forms: forms, slots: slots}
}

func (h *FormHandler) Register(router *gin.RouterGroup) {
	router.POST("/forms", h.create)
	router.GET("/forms/:id", h.get)
	router.DELETE("/forms/:id", h.delete)
	router.POST("/forms/:id/publish", h.publish)
	router.POST("/forms/:id/archive", h.archive)
	router.POST("/forms/:id/schedule", h.addSchedule)
	router.POST("/forms/:id/schedule/remove", h.removeSchedule)
	router.GET("/forms/:id/slots", h.listSlots)
	router.GET("/forms/:id/stats", h.stats)
}

func (h *FormHandler) create(c *gin.Context) {
	var req forms.CreateFormInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.OwnerID = auth.OwnerID(c)

	created, err := h.forms.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *FormHandler) get(c *gin.Context) {
	form, ok := h.ownedForm(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, form)
}

func (h *FormHandler) delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.forms.Delete(c.Request.Context(), auth.OwnerID(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FormHandler) publish(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	form, err := h.forms.Publish(c.Request.Context(), auth.OwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (h *FormHandler) archive(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	form, err := h.forms.Archive(c.Request.Context(), auth.OwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

func (h *FormHandler) addSchedule(c *gin.Context) {
	form, ok := h.ownedForm(c)
	if !ok {
		return
	}
	var spec domain.RecurrenceSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.slots.AddSchedule(c.Request.Context(), form.ID, spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scheduleResponse{AddResult: result, Summary: result.Summary()})
}

func (h *FormHandler) removeSchedule(c *gin.Context) {
	form, ok := h.ownedForm(c)
	if !ok {
		return
	}
	var spec domain.RemovalSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.slots.RemoveSchedule(c.Request.Context(), form.ID, spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, removalResponse{RemovalResult: result, Summary: result.Summary()})
}

// listSlots is the owner preview of availability, grouped like the public page.
func (h *FormHandler) listSlots(c *gin.Context) {
	form, ok := h.ownedForm(c)
	if !ok {
		return
	}
	query, err := availabilityQuery(c, form.ID)
	if err != nil {
		badRequest(c, err)
		return
	}
	page, err := h.slots.AvailableByDate(c.Request.Context(), query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *FormHandler) stats(c *gin.Context) {
	form, ok := h.ownedForm(c)
	if !ok {
		return
	}
	stats, err := h.slots.Stats(c.Request.Context(), form.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *FormHandler) ownedForm(c *gin.Context) (*domain.Form, bool) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return nil, false
	}
	form, err := h.forms.Get(c.Request.Context(), auth.OwnerID(c), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return form, true
}
