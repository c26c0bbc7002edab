package handler

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/web-casa/stackdeck/internal/apperr"
)

// respondError writes err as {"error", "error_key"} with the status its kind
// maps to. Process failures add exit_code and stderr; rate limits add
// retry_after and a Retry-After header.
func respondError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = &apperr.Error{Kind: apperr.Internal, Err: err}
	}
	c.Error(err)

	body := gin.H{
		"error":     e.Error(),
		"error_key": "error." + string(e.Kind),
	}
	switch e.Kind {
	case apperr.ProcessFailure:
		body["exit_code"] = e.ExitCode
		body["stderr"] = e.Stderr
	case apperr.RateLimited:
		secs := int((e.RetryAfter + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(e.Kind), body)
}

// bindJSON decodes the request body into v, reporting bad input as a
// validation error. An empty body is an error unless allowEmpty is set.
func bindJSON(c *gin.Context, v any, allowEmpty bool) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		respondError(c, apperr.Wrap(apperr.Validation, err, "invalid request body"))
		return false
	}
	return true
}
