package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hemolink/donor-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
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

// WriteError maps an application error onto the HTTP response. Stale
// donor responses are acknowledged with 200, not failed: from the
// donor's side there is nothing to fix.
func WriteError(c *gin.Context, err error) {
	switch errors.CodeOf(err) {
	case errors.ErrValidation:
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
	case errors.ErrNotFound:
		c.JSON(http.StatusNotFound, NewErrorResponse(err.Error()))
	case errors.ErrAlreadyResolved:
		c.JSON(http.StatusOK, &Response{Status: "success", Message: err.Error()})
	case errors.ErrInvalidState, errors.ErrAlreadyTerminal:
		c.JSON(http.StatusConflict, NewErrorResponse(err.Error()))
	case errors.ErrUnauthorized:
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse("internal server error"))
	}
}
