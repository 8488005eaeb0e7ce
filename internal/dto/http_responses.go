package dto

import (
	"errors"
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"eventAdmission/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	Unauthorized          = "UNAUTHORIZED"
	Forbidden             = "FORBIDDEN"
	NotFound              = "NOT_FOUND"
	Conflict              = "CONFLICT"
	InvalidState          = "INVALID_STATE"
	EventNotFound         = "EVENT_NOT_FOUND"
	RegistrationNotFound  = "REGISTRATION_NOT_FOUND"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
	RegistrationClosed    = "REGISTRATION_CLOSED"
)

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func ErrorResponse(c *ginext.Context, httpStatus int, code, desc string) {
	c.AbortWithStatusJSON(httpStatus, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError)
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func FieldIncorrectError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldIncorrect, "Field '"+fieldName+"' is incorrect")
}

func UnauthorizedError(c *ginext.Context) {
	ErrorResponse(c, http.StatusUnauthorized, Unauthorized, "Caller identity is missing or malformed")
}

// WriteError maps a domain error onto the HTTP status of its kind. Internal
// errors never leak their message.
func WriteError(c *ginext.Context, err error) {
	var de *model.Error
	if !errors.As(err, &de) {
		InternalServerError(c)
		return
	}

	switch de.Kind {
	case model.KindNotFound:
		code := NotFound
		switch {
		case errors.Is(err, model.ErrEventNotFound):
			code = EventNotFound
		case errors.Is(err, model.ErrRegistrationNotFound):
			code = RegistrationNotFound
		}
		ErrorResponse(c, http.StatusNotFound, code, de.Error())
	case model.KindForbidden:
		ErrorResponse(c, http.StatusForbidden, Forbidden, de.Error())
	case model.KindConflict:
		code := Conflict
		if errors.Is(err, model.ErrDuplicateRegistration) {
			code = RegistrationDuplicate
		}
		ErrorResponse(c, http.StatusConflict, code, de.Error())
	case model.KindInvalidState:
		code := InvalidState
		if errors.Is(err, model.ErrRegistrationClosed) {
			code = RegistrationClosed
		}
		ErrorResponse(c, http.StatusUnprocessableEntity, code, de.Error())
	case model.KindValidation:
		BadResponseError(c, FieldIncorrect, de.Error())
	default:
		InternalServerError(c)
	}
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Status: "ok",
		Data:   data,
	})
}

func NoContentResponse(c *ginext.Context) {
	c.Status(http.StatusNoContent)
}
