package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

func success(c *gin.Context, code int, message string, data any) {
	c.JSON(code, Response{Success: true, Message: message, Data: data})
}

func failure(c *gin.Context, code int, message string, err any) {
	c.AbortWithStatusJSON(code, Response{Success: false, Message: message, Error: err})
}

// validationMessages turns binding errors into one message per field.
func validationMessages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		messages = append(messages, fieldMessage(e))
	}
	return messages
}

func fieldMessage(e validator.FieldError) string {
	field := snakeCase(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", field)
	case "min":
		if e.Kind().String() == "string" {
			return fmt.Sprintf("%s: must be at least %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s: must be at least %s", field, e.Param())
	case "max":
		if e.Kind().String() == "string" {
			return fmt.Sprintf("%s: must be at most %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s: must be at most %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s: must be greater than or equal to %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s: must be less than or equal to %s", field, e.Param())
	case "dive":
		return fmt.Sprintf("%s: contains an invalid item", field)
	default:
		return fmt.Sprintf("%s: failed %s validation", field, e.Tag())
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
