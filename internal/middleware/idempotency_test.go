package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/otpmail/otpmail/internal/logging"
)

func setupTestApp(t *testing.T, status int) (*fiber.App, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls int32
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/login", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(status).JSON(fiber.Map{"message": "OTP sent to email for login verification.", "call": n})
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, key string) (int, string) {
	t.Helper()
	return postBody(t, app, key, `{"email":"ada@example.com"}`)
}

func postBody(t *testing.T, app *fiber.App, key, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusOK)

	for i := 0; i < 2; i++ {
		if status, _ := post(t, app, ""); status != fiber.StatusOK {
			t.Fatalf("expected %d got %d", fiber.StatusOK, status)
		}
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", got)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusOK)

	status, payload := post(t, app, "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	// The retry must not reach the handler, which would send another email.
	status, cached := post(t, app, "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}

	if _, _ = post(t, app, "other"); atomic.LoadInt32(calls) != 2 {
		t.Fatalf("a new key must reach the handler")
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusBadGateway)

	post(t, app, "abc123")
	post(t, app, "abc123")
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("server errors must not be replayed, handler ran %d times", got)
	}
}

func TestIdempotencyRejectsKeyReusedWithDifferentBody(t *testing.T) {
	app, calls := setupTestApp(t, fiber.StatusOK)

	if status, _ := post(t, app, "abc123"); status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	status, payload := postBody(t, app, "abc123", `{"email":"bob@example.com"}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected status %d got %d", fiber.StatusUnprocessableEntity, status)
	}
	if strings.Contains(payload, "OTP sent") {
		t.Fatalf("another request's response leaked: %s", payload)
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("a mismatched body must not reach the handler, ran %d times", got)
	}

	// The original body still replays.
	if status, _ := post(t, app, "abc123"); status != fiber.StatusOK {
		t.Fatalf("expected replay status %d got %d", fiber.StatusOK, status)
	}
}

func TestIdempotencyRejectsDifferentBodyWhileInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/login", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// A reservation left by a request that is still running.
	pending := inProgressMarker + bodyFingerprint([]byte(`{"email":"ada@example.com"}`))
	if err := mr.Set(idempotencyPrefix+"/login:abc123", pending); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	if status, _ := post(t, app, "abc123"); status != fiber.StatusConflict {
		t.Fatalf("expected status %d got %d", fiber.StatusConflict, status)
	}
	if status, _ := postBody(t, app, "abc123", `{"email":"bob@example.com"}`); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected status %d got %d", fiber.StatusUnprocessableEntity, status)
	}
}
