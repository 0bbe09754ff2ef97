package utils

import (
	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// APIResponse is the envelope every JSON endpoint answers with. RequestID
// echoes the X-Request-ID of the call so a client can quote it.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func SuccessResponse(c *gin.Context, code int, message string, data interface{}) {
	respond(c, code, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, code int, message string, err error) {
	response := APIResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	respond(c, code, response)
}

func respond(c *gin.Context, code int, response APIResponse) {
	response.RequestID = c.GetString(RequestIDKey)
	c.JSON(code, response)
}
