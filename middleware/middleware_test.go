package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/sirupsen/logrus/hooks/test"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops@example.com",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func adminApp() *fiber.App {
	app := fiber.New()
	app.Get("/admin", Protected(testSecret), AdminRequired(), func(c *fiber.Ctx) error {
		return c.SendString(Subject(c))
	})
	return app
}

func TestAdminRequired(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"Given no token Then the request is rejected as malformed", "", fiber.StatusBadRequest},
		{"Given a forged token Then the request is unauthorized", "Bearer not.a.jwt", fiber.StatusUnauthorized},
		{"Given a staff token Then the request is forbidden", "Bearer " + signedToken(t, "staff"), fiber.StatusForbidden},
		{"Given an admin token Then the request passes", "Bearer " + signedToken(t, "admin"), fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := adminApp().Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	t.Run("Given the limiter is disabled When requests arrive Then they pass", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		app := fiber.New()
		app.Get("/", RateLimit(config.RateLimit{Enabled: false}, nil, log), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != fiber.StatusNoContent {
			t.Errorf("expected 204, got %d", resp.StatusCode)
		}
	})

	t.Run("Given redis is unreachable When a request arrives Then it is let through with a warning", func(t *testing.T) {
		log, hook := test.NewNullLogger()
		rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
		defer rdb.Close()

		cfg := config.RateLimit{Enabled: true, Prefix: "rl:test", Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}
		app := fiber.New()
		app.Get("/", RateLimit(cfg, rdb, log), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

		resp, err := app.Test(httptest.NewRequest("GET", "/", nil), 5000)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		if resp.StatusCode != fiber.StatusNoContent {
			t.Errorf("expected 204, got %d", resp.StatusCode)
		}
		if entry := hook.LastEntry(); entry == nil || entry.Message != "rate limiter unavailable, allowing request" {
			t.Errorf("expected a warning, got %+v", entry)
		}
	})
}
