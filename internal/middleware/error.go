package middleware

import (
	"errors"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// errorBody is an AppError tagged with the id of the request that failed, so
// a client report can be matched to its access log entry.
type errorBody struct {
	*apperrors.AppError
	RequestID string `json:"request_id,omitempty"`
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle if there are errors
		if len(c.Errors) == 0 {
			return
		}

		// Get the last error
		err := c.Errors.Last().Err
		var appErr *apperrors.AppError

		if !errors.As(err, &appErr) {
			// Unknown error, wrap as Internal
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		reqID := RequestID(c)
		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
			"request_id", reqID,
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		// a handler that already answered keeps its response
		if c.Writer.Written() {
			return
		}
		if reqID != "" {
			c.Header(HeaderRequestID, reqID)
		}
		c.JSON(appErr.HTTPStatus, errorBody{AppError: appErr, RequestID: reqID})
	}
}
