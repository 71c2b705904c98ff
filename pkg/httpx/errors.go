package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const internalErrorMessage = "internal server error"

// NonFieldErrors collects messages that do not belong to one input field.
const NonFieldErrors = "non_field_errors"

var registerTagNames sync.Once

// UseJSONFieldNames makes validation errors report json tag names instead of
// Go field names. It is safe to call more than once.
func UseJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

// Bind decodes the JSON body into obj and renders a 400 when that fails.
// It reports whether the handler may continue.
func Bind(c *gin.Context, obj any) bool {
	UseJSONFieldNames()
	if err := c.ShouldBindJSON(obj); err != nil {
		ValidationError(c, err)
		return false
	}
	return true
}

// BindQuery is Bind for query string parameters.
func BindQuery(c *gin.Context, obj any) bool {
	UseJSONFieldNames()
	if err := c.ShouldBindQuery(obj); err != nil {
		ValidationError(c, err)
		return false
	}
	return true
}

// ValidationError renders {"errors": {field: [messages]}}.
func ValidationError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": FieldErrors(err)})
}

// FieldError renders a single field-level validation message.
func FieldError(c *gin.Context, field, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"errors": map[string][]string{field: {message}}})
}

func FieldErrors(err error) map[string][]string {
	out := map[string][]string{}

	var verrs validator.ValidationErrors
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &verrs):
		for _, fe := range verrs {
			field := fieldPath(fe)
			out[field] = append(out[field], message(fe))
		}
	case errors.As(err, &typeErr) && typeErr.Field != "":
		out[typeErr.Field] = append(out[typeErr.Field], fmt.Sprintf("Expected a value of type %s.", typeErr.Type))
	case errors.As(err, &syntaxErr):
		out[NonFieldErrors] = []string{"Malformed JSON body."}
	default:
		out[NonFieldErrors] = []string{err.Error()}
	}
	return out
}

// fieldPath drops the root struct name: "createOrderRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("Ensure this field has at least %s elements.", fe.Param())
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this field has at least %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
		}
		return fmt.Sprintf("Ensure this value is less than or equal to %s.", fe.Param())
	case "gt":
		return fmt.Sprintf("Ensure this value is greater than %s.", fe.Param())
	case "gte":
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", fe.Param())
	case "eqfield":
		return "Fields do not match."
	default:
		return fmt.Sprintf("Failed on the %q rule.", fe.Tag())
	}
}

func Error(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Not found.")
}

// InternalError logs the detail and answers with a generic 500.
func InternalError(c *gin.Context, logger *zap.Logger, err error) {
	logger.Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", GetRequestID(c)),
		zap.Error(err))
	Error(c, http.StatusInternalServerError, internalErrorMessage)
}
