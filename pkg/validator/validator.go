package validator

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/go-playground/validator"

	"eventAdmission/internal/model"
)

var global *validator.Validate

const (
	ErrInvalidFormat      = "Invalid format"
	ErrFieldRequired      = "Field is required"
	ErrFieldExceedsMaxLen = "Field exceeds maximum length"
	ErrFieldBelowMinLen   = "Field is below minimum length"
	ErrFieldExceedsMaxVal = "Field exceeds maximum value"
	ErrFieldBelowMinVal   = "Field is below minimum value"
	ErrUnknownValidation  = "Unknown validation error"
)

func init() {
	SetValidator(New())
}

func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("future", validateFutureDate)
	_ = v.RegisterValidation("positive", validatePositiveInt)
	_ = v.RegisterValidation("event_type", validateEventType)
	_ = v.RegisterValidation("event_status", validateEventStatus)
	_ = v.RegisterValidation("attendance_status", validateAttendanceStatus)
	return v
}

func SetValidator(v *validator.Validate) {
	global = v
}

func Validator() *validator.Validate {
	return global
}

func validateFutureDate(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(time.Time)
	return ok && t.After(time.Now())
}

func validatePositiveInt(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fl.Field().Int() > 0
	default:
		return false
	}
}

func validateEventType(fl validator.FieldLevel) bool {
	return model.EventType(fl.Field().String()).Valid()
}

func validateEventStatus(fl validator.FieldLevel) bool {
	return model.EventStatus(fl.Field().String()).Valid()
}

func validateAttendanceStatus(fl validator.FieldLevel) bool {
	s := model.RegistrationStatus(fl.Field().String())
	return s == model.RegistrationAttended || s == model.RegistrationNoShow
}

func Validate(ctx context.Context, structure any) error {
	return parseValidationErrors(Validator().StructCtx(ctx, structure))
}

func parseValidationErrors(err error) error {
	if err == nil {
		return nil
	}
	vErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(vErrors) == 0 {
		return nil
	}
	ve := vErrors[0]
	var msg string
	switch ve.Tag() {
	case "required":
		msg = ErrFieldRequired
	case "max":
		msg = ErrFieldExceedsMaxLen
	case "min":
		msg = ErrFieldBelowMinLen
	case "lt", "lte":
		msg = ErrFieldExceedsMaxVal
	case "gt", "gte":
		msg = ErrFieldBelowMinVal
	case "gtfield":
		msg = "Value must be after " + ve.Param()
	case "future":
		msg = "Date must be in the future"
	case "positive":
		msg = "Value must be positive"
	case "event_type":
		msg = "Event type must be online, offline or hybrid"
	case "event_status":
		msg = "Unknown event status"
	case "attendance_status":
		msg = "Attendance status must be attended or no_show"
	default:
		msg = ErrUnknownValidation
	}
	return errors.New(msg + ": " + ve.Namespace())
}
