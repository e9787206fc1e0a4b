// Package response writes the JSON envelope of the HTTP API.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/statute-agent/pkg/errors"
	"github.com/kart-io/statute-agent/pkg/validator"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// Response is the envelope of every JSON answer.
type Response struct {
	// Code is the errno code, 0 on success.
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func write(c *gin.Context, status int, r Response) {
	if id, ok := c.Get(RequestIDKey); ok {
		r.RequestID, _ = id.(string)
	}
	c.JSON(status, r)
}

// lang picks the message language from Accept-Language.
func lang(c *gin.Context) string {
	if l := c.GetHeader("Accept-Language"); len(l) >= 2 && l[:2] == "ar" {
		return "ar"
	}
	return "en"
}

// OK writes data with status 200.
func OK(c *gin.Context, data any) {
	write(c, http.StatusOK, Response{Message: "success", Data: data})
}

// Created writes data with status 201.
func Created(c *gin.Context, data any) {
	write(c, http.StatusCreated, Response{Message: "success", Data: data})
}

// Fail writes e with its HTTP status.
func Fail(c *gin.Context, e *errors.Errno) {
	FailWithData(c, e, nil)
}

// FailWithData writes e and still carries a payload.
func FailWithData(c *gin.Context, e *errors.Errno, data any) {
	write(c, e.HTTPStatus(), Response{Code: e.Code, Message: e.Message(lang(c)), Data: data})
}

// FailWithError writes any error, mapping non-Errno errors to ErrInternal.
func FailWithError(c *gin.Context, err error) {
	Fail(c, errors.FromError(err))
}

// FailWithBindOrValidation answers a request that could not be decoded or
// failed validation.
func FailWithBindOrValidation(c *gin.Context, err error) {
	if verr, ok := err.(*validator.ValidationErrors); ok {
		write(c, http.StatusBadRequest, Response{
			Code:    errors.ErrValidationFailed.Code,
			Message: verr.First(),
			Data:    verr,
		})
		return
	}
	Fail(c, errors.ErrInvalidParam.WithMessage("invalid request body: "+err.Error()))
}
