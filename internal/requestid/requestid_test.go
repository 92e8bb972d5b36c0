package requestid

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	id := FromContext(context.Background())
	assert.NotEmpty(t, id) // generates new UUID
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func middlewareApp() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		if FromContext(c.UserContext()) != FromFiber(c) {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(FromFiber(c))
	})
	return app
}

func TestMiddleware_GeneratesID(t *testing.T) {
	app := middlewareApp()

	req, _ := http.NewRequest("GET", "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	id := resp.Header.Get(Header)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, id, string(body))
}

func TestMiddleware_KeepsInboundID(t *testing.T) {
	app := middlewareApp()

	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set(Header, "upstream-42")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "upstream-42", resp.Header.Get(Header))
}

func TestMiddleware_ReplacesOversizedID(t *testing.T) {
	app := middlewareApp()

	long := make([]byte, maxInboundLen+1)
	for i := range long {
		long[i] = 'a'
	}
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set(Header, string(long))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.NotEqual(t, string(long), resp.Header.Get(Header))
	assert.NotEmpty(t, resp.Header.Get(Header))
}
