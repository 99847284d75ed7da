package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/seb7887/gofw/stillsuit"
)

const responseKey = "httpapi.response"

type response struct {
	status int
	body   any
}

// Respond stores the response of a handler. It is written once the unit of
// work of the request has been committed.
func Respond(c *gin.Context, status int, body any) {
	c.Set(responseKey, response{status: status, body: body})
}

// StatusFor maps repository errors to HTTP statuses
func StatusFor(err error) int {
	switch {
	case errors.Is(err, stillsuit.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, stillsuit.ErrItemAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, stillsuit.ErrInvalidArgument), errors.Is(err, stillsuit.ErrUnknownPath):
		return http.StatusBadRequest
	case errors.Is(err, stillsuit.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func ErrorFormatterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			status := StatusFor(err)
			if c.Writer.Status() >= http.StatusBadRequest && c.Writer.Status() != http.StatusInternalServerError {
				status = c.Writer.Status()
			}
			c.JSON(status, gin.H{
				"message": http.StatusText(status),
				"error":   err.Error(),
			})
			return
		}
		if c.Writer.Status() >= http.StatusBadRequest {
			c.JSON(c.Writer.Status(), gin.H{
				"message": http.StatusText(c.Writer.Status()),
			})
		}
	}
}

// UnitOfWorkMiddleware runs every request in its own unit of work. Requests
// that recorded an error are rolled back, the others are committed before
// their response is written.
func UnitOfWorkMiddleware(reg *stillsuit.Registry, opts ...stillsuit.ScopeOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, uow := stillsuit.Begin(c.Request.Context(), reg, opts...)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if len(c.Errors) > 0 || c.Writer.Status() >= http.StatusBadRequest {
			_ = uow.Rollback(ctx)
			return
		}
		if err := uow.Commit(ctx); err != nil {
			_ = c.Error(err)
			return
		}
		if v, ok := c.Get(responseKey); ok {
			r := v.(response)
			if r.body == nil {
				c.Status(r.status)
				c.Writer.WriteHeaderNow()
				return
			}
			c.JSON(r.status, r.body)
		}
	}
}

// LoggerMiddleware logs every request through logger
func LoggerMiddleware(logger hclog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if uow, ok := stillsuit.Current(c.Request.Context()); ok {
			fields = append(fields, "uow", uow.ID())
		}
		if len(c.Errors) > 0 {
			logger.Error("request failed", append(fields, "error", c.Errors.Last().Err)...)
			return
		}
		logger.Debug("request", fields...)
	}
}
