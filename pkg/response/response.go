package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/internal/schema"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Details lists field errors of a rejected document.
	Details schema.FieldErrors `json:"details,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// Unprocessable sends 422 with the field errors of a rejected document.
func Unprocessable(c *gin.Context, err string, details schema.FieldErrors) {
	c.JSON(http.StatusUnprocessableEntity, Body{Success: false, Error: err, Details: details})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error sends the status matching a repository port error.
func Error(c *gin.Context, err error) {
	var ve *ports.ValidationError
	switch {
	case errors.As(err, &ve):
		Unprocessable(c, err.Error(), ve.Errors)
	case errors.Is(err, ports.ErrValidationFailed):
		Unprocessable(c, err.Error(), nil)
	case errors.Is(err, ports.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, ports.ErrConcurrencyConflict):
		Conflict(c, err.Error())
	case errors.Is(err, ports.ErrBackendUnavailable):
		ServiceUnavailable(c, err.Error())
	default:
		Internal(c, "internal error")
	}
}
