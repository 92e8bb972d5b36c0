package mgmt

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/build"
	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/store"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/supervisor"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
	return v
}

// validationDetail renders validator errors as "field: rule" pairs.
func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// problemTypes names the domain sentinels. Order matters only for errors
// wrapping more than one of them.
var problemTypes = []struct {
	err error
	typ string
}{
	{supervisor.ErrAlreadyActive, "already_active"},
	{supervisor.ErrNotActive, "not_active"},
	{supervisor.ErrBinaryNotFound, "binary_not_found"},
	{supervisor.ErrInvalidIdentity, "invalid_identity"},
	{build.ErrDependencyMissing, "dependency_missing"},
	{build.ErrInvalidToken, "invalid_include"},
	{build.ErrInvalidScriptName, "invalid_script_name"},
	{store.ErrScriptNotFound, "script_not_found"},
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch perrors.KindOf(err) {
	case perrors.KindConflict:
		return fiber.StatusConflict
	case perrors.KindNotFound:
		return fiber.StatusNotFound
	case perrors.KindInvalid:
		return fiber.StatusBadRequest
	case perrors.KindTransport:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func problemType(err error, status int) string {
	for _, p := range problemTypes {
		if errors.Is(err, p.err) {
			return p.typ
		}
	}
	if status == fiber.StatusInternalServerError {
		return "internal_error"
	}
	return perrors.KindOf(err).String()
}

// errorResponse writes err as a problem detail. Internal errors are logged
// by the caller and not echoed.
func errorResponse(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	detail := err.Error()
	if status == fiber.StatusInternalServerError {
		detail = "An internal error occurred"
	}
	return problemResponse(c, status, problemType(err, status), http.StatusText(status), detail)
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	c.Set(fiber.HeaderContentType, "application/problem+json")
	body, err := c.App().Config().JSONEncoder(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
	if err != nil {
		return err
	}
	return c.Status(status).Send(body)
}
