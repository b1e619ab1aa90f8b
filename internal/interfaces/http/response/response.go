package response

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	domainerrors "keygate.backend/internal/domain/errors"
)

// Success sends a success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Error sends an error response. Errors that are not AppErrors become 500s.
func Error(c *gin.Context, err error) {
	var appErr *domainerrors.AppError
	if !errors.As(err, &appErr) {
		appErr = domainerrors.InternalError(err)
	}

	switch appErr.Status {
	case http.StatusUnauthorized:
		c.Header("WWW-Authenticate", "Bearer")
	case http.StatusTooManyRequests:
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(appErr)))
		c.Header("X-RateLimit-Remaining", "0")
	}

	c.JSON(appErr.Status, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}

// Abort sends an error response and stops the handler chain
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// BindError reports a request body or query that failed validation
func BindError(c *gin.Context, err error) {
	Error(c, domainerrors.BadRequest(err.Error()))
}

func retryAfterSeconds(appErr *domainerrors.AppError) int {
	secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
