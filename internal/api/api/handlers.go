package api

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"eventAdmission/internal/dto"
	"eventAdmission/internal/model"
	"eventAdmission/internal/service"
	"eventAdmission/pkg/validator"
)

const (
	userIDHeader = "X-User-ID"
	userIDKey    = "user_id"
)

type handlers struct {
	svc service.Service
	log *zerolog.Logger
}

// identity reads the caller from X-User-ID. Authentication happens upstream.
func identity() func(*ginext.Context) {
	return func(c *ginext.Context) {
		id, err := strconv.ParseInt(c.GetHeader(userIDHeader), 10, 64)
		if err != nil || id <= 0 {
			dto.UnauthorizedError(c)
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

func callerID(c *ginext.Context) int64 {
	return c.GetInt64(userIDKey)
}

func pathID(c *ginext.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		dto.FieldBadFormatError(c, "id")
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(c *ginext.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		dto.FieldBadFormatError(c, name)
		return 0, false
	}
	return n, true
}

// bind decodes and validates the JSON body, answering 400 itself on failure.
func (h *handlers) bind(c *ginext.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.log.Debug().Err(err).Str("path", c.FullPath()).Msg("failed to parse request body")
		dto.BadResponseError(c, dto.FieldBadFormat, "Invalid JSON format")
		return false
	}
	if verr := validator.Validate(c.Request.Context(), req); verr != nil {
		dto.BadResponseError(c, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return false
	}
	return true
}

func (h *handlers) fail(c *ginext.Context, err error) {
	if model.KindOf(err) == model.KindInternal {
		h.log.Error().Err(err).Str("method", c.Request.Method).Str("path", c.FullPath()).Msg("request failed")
	}
	dto.WriteError(c, err)
}

func (h *handlers) health(c *ginext.Context) {
	dto.SuccessResponse(c, map[string]string{"state": "up"})
}

func (h *handlers) createEvent(c *ginext.Context) {
	communityID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CreateEventRequest
	if !h.bind(c, &req) {
		return
	}

	ev, err := h.svc.CreateEvent(c.Request.Context(), req.ToModel(communityID, callerID(c)))
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, ev)
}

func (h *handlers) listCommunityEvents(c *ginext.Context) {
	communityID, ok := pathID(c)
	if !ok {
		return
	}
	var status *model.EventStatus
	if raw := c.Query("status"); raw != "" {
		s := model.EventStatus(raw)
		status = &s
	}

	var page model.Page
	if page.Number, ok = queryInt(c, "page"); !ok {
		return
	}
	if page.Size, ok = queryInt(c, "page_size"); !ok {
		return
	}

	events, err := h.svc.ListCommunityEvents(c.Request.Context(), communityID, status, page)
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessResponse(c, events)
}

func (h *handlers) getEvent(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	ev, err := h.svc.GetEvent(ctx, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.svc.EventStats(ctx, eventID)
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessResponse(c, dto.EventResponse{Event: *ev, Stats: stats})
}

func (h *handlers) updateEvent(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.UpdateEventRequest
	if !h.bind(c, &req) {
		return
	}

	ev, err := h.svc.UpdateEvent(c.Request.Context(), eventID, callerID(c), req.ToModel())
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessResponse(c, ev)
}

func (h *handlers) deleteEvent(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteEvent(c.Request.Context(), eventID, callerID(c)); err != nil {
		h.fail(c, err)
		return
	}
	dto.NoContentResponse(c)
}

func (h *handlers) changeStatus(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.ChangeStatusRequest
	if !h.bind(c, &req) {
		return
	}

	ev, err := h.svc.ChangeStatus(c.Request.Context(), eventID, callerID(c), model.EventStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessResponse(c, ev)
}

func (h *handlers) register(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}

	reg, err := h.svc.Register(c.Request.Context(), eventID, callerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, reg)
}

func (h *handlers) unregister(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.Unregister(c.Request.Context(), eventID, callerID(c)); err != nil {
		h.fail(c, err)
		return
	}
	dto.NoContentResponse(c)
}

func (h *handlers) listParticipants(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	var status *model.RegistrationStatus
	if raw := c.Query("status"); raw != "" {
		s := model.RegistrationStatus(raw)
		status = &s
	}

	participants, err := h.svc.ListParticipants(c.Request.Context(), eventID, status)
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessResponse(c, participants)
}

func (h *handlers) markAttendance(c *ginext.Context) {
	eventID, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.AttendanceRequest
	if !h.bind(c, &req) {
		return
	}

	reg, err := h.svc.MarkAttendance(c.Request.Context(), eventID, callerID(c), req.UserID, model.RegistrationStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	dto.SuccessResponse(c, reg)
}
