package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/atomex-api/internal/types"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Bodies are padded with trailing spaces to a multiple of this block size so
// response length leaks nothing about the payload. Configured once at boot.
var blockSize = 256

// SetBlockSize overrides the padding block size.
func SetBlockSize(size int) {
	if size > 0 {
		blockSize = size
	}
}

// Handle processes the error and returns the appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, types.ErrUnauthorized):
		Unauthorized(c, err.Error())
	case errors.Is(err, types.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrInvalidState):
		Conflict(c, err.Error())
	case errors.Is(err, types.ErrInvalidInput):
		BadRequest(c, err.Error())
	case errors.Is(err, types.ErrArithmetic):
		InternalError(c, err.Error())
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	write(c, status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	write(c, http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	write(c, http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	write(c, http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Conflict sends a 409 response for operations against the wrong state
func Conflict(c *gin.Context, message string) {
	write(c, http.StatusConflict, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInvalidState,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	write(c, http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// write serializes the response and pads it to the block size.
func write(c *gin.Context, status int, resp Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: &Error{
			Code:    ErrCodeInternalError,
			Message: "failed to encode response",
		}})
		return
	}
	c.Data(status, "application/json; charset=utf-8", spacePad(body, blockSize))
}

// spacePad extends the message with trailing spaces to a multiple of size.
// JSON parsers ignore trailing whitespace, so clients are unaffected.
func spacePad(message []byte, size int) []byte {
	surplus := len(message) % size
	if surplus == 0 {
		return message
	}
	return append(message, bytes.Repeat([]byte{' '}, size-surplus)...)
}
