package handler

import (
	"net/http"

	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// ErrorStatus maps an application error to its HTTP shape. Unknown errors
// collapse to a bare 500: internals never leak to callers.
func ErrorStatus(err error) (int, *Response) {
	appErr, ok := apperrors.As(err)
	if !ok {
		return http.StatusInternalServerError, NewErrorResponse("internal server error")
	}

	switch appErr.Code {
	case apperrors.ErrValidation:
		return http.StatusBadRequest, NewErrorResponse(appErr.Message)
	case apperrors.ErrNotFound:
		return http.StatusNotFound, NewErrorResponse(appErr.Message)
	case apperrors.ErrAccessDenied:
		return http.StatusForbidden, NewErrorResponse(appErr.Message)
	case apperrors.ErrOverrideRejected:
		resp := NewErrorResponse(appErr.Message)
		resp.Reason = appErr.Reason
		return http.StatusForbidden, resp
	case apperrors.ErrAuditUnavailable:
		return http.StatusServiceUnavailable, NewErrorResponse(appErr.Message)
	default:
		return http.StatusInternalServerError, NewErrorResponse("internal server error")
	}
}
