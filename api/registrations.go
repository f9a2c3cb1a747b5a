package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/service/booking"
	"github.com/Domenick1991/signupslots/internal/service/slots"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegistrationHandler serves the public registration page.
type RegistrationHandler struct {
	slots   slots.SlotUseCase
	booking booking.BookingUseCase
}

type registerRequest struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	SlotIDs []uuid.UUID    `json:"slot_ids"`
	Answers map[string]any `json:"answers,omitempty"`
}

type reserveRequest struct {
	SlotIDs []uuid.UUID `json:"slot_ids"`
}

func NewRegistrationHandler(slots slots.SlotUseCase, booking booking.BookingUseCase) *RegistrationHandler {
	return &RegistrationHandler{slots: slots, booking: booking}
}

func (h *RegistrationHandler) Register(router *gin.RouterGroup) {
	router.GET("/forms/:id/slots", h.available)
	router.POST("/forms/:id/registrations", h.register)
	router.POST("/forms/:id/registrations/:registrationId/slots", h.reserve)
	router.GET("/registrations/:registrationId/slots", h.booked)
	router.GET("/registrations/:registrationId/calendar.ics", h.calendar)
}

func (h *RegistrationHandler) available(c *gin.Context) {
	formID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	query, err := availabilityQuery(c, formID)
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

func (h *RegistrationHandler) register(c *gin.Context) {
	formID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	confirmation, err := h.booking.Register(c.Request.Context(), booking.RegisterInput{
		FormID:  formID,
		Name:    req.Name,
		Email:   req.Email,
		SlotIDs: req.SlotIDs,
		Answers: req.Answers,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, confirmation)
}

// reserve books slots for an existing registration. Clients may retry it
// with the same body; already-held slots are reported in already_booked.
func (h *RegistrationHandler) reserve(c *gin.Context) {
	formID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	registrationID, ok := pathUUID(c, "registrationId")
	if !ok {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.booking.Reserve(c.Request.Context(), booking.ReserveInput{
		FormID:         formID,
		RegistrationID: registrationID,
		SlotIDs:        req.SlotIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *RegistrationHandler) booked(c *gin.Context) {
	registrationID, ok := pathUUID(c, "registrationId")
	if !ok {
		return
	}
	slots, err := h.booking.BookedSlots(c.Request.Context(), registrationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registration_id": registrationID, "slots": slots})
}

func (h *RegistrationHandler) calendar(c *gin.Context) {
	registrationID, ok := pathUUID(c, "registrationId")
	if !ok {
		return
	}
	ics, err := h.booking.CalendarICS(c.Request.Context(), registrationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="booking.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics))
}

// availabilityQuery reads limit, offset, from and to (RFC 3339 or YYYY-MM-DD).
func availabilityQuery(c *gin.Context, formID uuid.UUID) (domain.AvailabilityQuery, error) {
	q := domain.AvailabilityQuery{FormID: formID}
	var err error
	if v := c.Query("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			return q, fmt.Errorf("limit must be an integer")
		}
	}
	if v := c.Query("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil || q.Offset < 0 {
			return q, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	if q.From, err = queryTime(c, "from"); err != nil {
		return q, err
	}
	if q.To, err = queryTime(c, "to"); err != nil {
		return q, err
	}
	return q, nil
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", name)
}
