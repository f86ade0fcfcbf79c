package scrape

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/sahl-financial/sahl_api/internal/middleware"
)

const clientHeader = "X-Client-ID"

func newHandlerApp(f *fixture) *fiber.App {
	h := NewHandler(f.engine, f.journal)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(middleware.ClientIDLocal, c.Get(clientHeader))
		return c.Next()
	})
	app.Post("/scrape", h.Scrape)
	app.Get("/scrape/sessions", h.Sessions)
	app.Delete("/scrape/sessions/:identity", h.Release)
	app.Get("/scrape/attempts", h.Attempts)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	status, _, decoded := doJSONAs(t, app, testClient, method, path, body)
	return status, decoded
}

func doJSONAs(t *testing.T, app *fiber.App, client, method, path, body string) (int, http.Header, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(clientHeader, client)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp.StatusCode, resp.Header, decoded
}

func TestHandlerScrapeFlow(t *testing.T) {
	f := newFixture(t, bankPage("u1", "p1", " 9 876,00 MAD"), nil)
	app := newHandlerApp(f)

	status, body := doJSON(t, app, http.MethodPost, "/scrape", `{"identity":"u1","password":"p1"}`)
	if status != http.StatusOK || body["status"] != StatusOtpRequired {
		t.Fatalf("unexpected login response %d %v", status, body)
	}
	if _, ok := body["balance"]; ok {
		t.Fatalf("login response must not carry a balance")
	}

	status, body = doJSON(t, app, http.MethodGet, "/scrape/sessions", "")
	sessions, _ := body["sessions"].([]any)
	if status != http.StatusOK || len(sessions) != 1 {
		t.Fatalf("unexpected sessions response %d %v", status, body)
	}
	if phase := sessions[0].(map[string]any)["phase"]; phase != string(PhaseAwaitingOtp) {
		t.Fatalf("expected AwaitingOtp, got %v", phase)
	}

	// Aliases from older clients.
	status, header, body := doJSONAs(t, app, testClient, http.MethodPost, "/scrape", `{"username":"u1","otp":"123456"}`)
	if status != http.StatusOK || body["status"] != StatusBalance || body["balance"] != "9 876,00 MAD" {
		t.Fatalf("unexpected code response %d %v", status, body)
	}
	if cc := header.Get(fiber.HeaderCacheControl); cc != "no-store" {
		t.Fatalf("expected balance response to be no-store, got %q", cc)
	}

	status, body = doJSON(t, app, http.MethodGet, "/scrape/attempts?identity=u1", "")
	attempts, _ := body["attempts"].([]any)
	if status != http.StatusOK || len(attempts) != 2 {
		t.Fatalf("unexpected attempts response %d %v", status, body)
	}
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t, bankPage("u1", "p1", "10.00"), nil)
	app := newHandlerApp(f)

	cases := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"missing identity", `{"password":"p1"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"malformed body", `{`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"code without login", `{"identity":"u1","code":"123456"}`, http.StatusPreconditionFailed, "NOT_AUTHENTICATED"},
		{"bad password", `{"identity":"u1","password":"nope"}`, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doJSON(t, app, http.MethodPost, "/scrape", tc.body)
			if status != tc.status {
				t.Fatalf("expected %d, got %d %v", tc.status, status, body)
			}
			errBody, _ := body["error"].(map[string]any)
			if errBody["kind"] != tc.kind {
				t.Fatalf("expected kind %s, got %v", tc.kind, errBody)
			}
			if _, ok := errBody["phase"]; !ok {
				t.Fatalf("expected phase in error body, got %v", errBody)
			}
		})
	}
}

func TestHandlerReleaseSession(t *testing.T) {
	f := newFixture(t, bankPage("u1", "p1", "10.00"), nil)
	app := newHandlerApp(f)

	if status, body := doJSON(t, app, http.MethodPost, "/scrape", `{"identity":"u1","password":"p1"}`); status != http.StatusOK {
		t.Fatalf("login: %d %v", status, body)
	}
	for i := 0; i < 2; i++ {
		if status, _ := doJSON(t, app, http.MethodDelete, "/scrape/sessions/u1", ""); status != http.StatusNoContent {
			t.Fatalf("release %d: expected 204, got %d", i, status)
		}
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected session released")
	}
}

func TestHandlerScopesSessionsToClient(t *testing.T) {
	f := newFixture(t, bankPage("u1", "p1", "10.00"), nil)
	app := newHandlerApp(f)
	const other = "web"

	if status, body := doJSON(t, app, http.MethodPost, "/scrape", `{"identity":"u1","password":"p1"}`); status != http.StatusOK {
		t.Fatalf("login: %d %v", status, body)
	}

	status, _, body := doJSONAs(t, app, other, http.MethodGet, "/scrape/sessions", "")
	if sessions, _ := body["sessions"].([]any); status != http.StatusOK || len(sessions) != 0 {
		t.Fatalf("expected no sessions for another client, got %d %v", status, body)
	}

	status, _, body = doJSONAs(t, app, other, http.MethodGet, "/scrape/attempts?identity=u1", "")
	if attempts, _ := body["attempts"].([]any); status != http.StatusOK || len(attempts) != 0 {
		t.Fatalf("expected no attempts for another client, got %d %v", status, body)
	}

	status, _, body = doJSONAs(t, app, other, http.MethodDelete, "/scrape/sessions/u1", "")
	if errBody, _ := body["error"].(map[string]any); status != http.StatusForbidden || errBody["kind"] != "SESSION_NOT_OWNED" {
		t.Fatalf("expected release by another client to be refused, got %d %v", status, body)
	}

	status, _, body = doJSONAs(t, app, other, http.MethodPost, "/scrape", `{"identity":"u1","code":"123456"}`)
	if status != http.StatusForbidden {
		t.Fatalf("expected code from another client to be refused, got %d %v", status, body)
	}

	status, _, body = doJSONAs(t, app, other, http.MethodPost, "/scrape", `{"identity":"u1","password":"p1"}`)
	if status != http.StatusForbidden {
		t.Fatalf("expected login over another client's session to be refused, got %d %v", status, body)
	}

	s, ok := f.store.Lookup("u1")
	if !ok || s.Phase() != PhaseAwaitingOtp {
		t.Fatalf("expected the owner's session to stay pending")
	}
	if f.launcher.Launched() != 1 {
		t.Fatalf("expected one browser, got %d", f.launcher.Launched())
	}

	status, body = doJSON(t, app, http.MethodPost, "/scrape", `{"identity":"u1","code":"123456"}`)
	if status != http.StatusOK || body["balance"] != "10.00" {
		t.Fatalf("expected the owner to finish the login, got %d %v", status, body)
	}
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		ErrValidation:         http.StatusBadRequest,
		ErrInvalidCredentials: http.StatusUnauthorized,
		ErrOtpRejected:        http.StatusUnauthorized,
		ErrNotAuthenticated:   http.StatusPreconditionFailed,
		ErrNotOwner:           http.StatusForbidden,
		ErrSessionBusy:        http.StatusConflict,
		ErrNavigationTimeout:  http.StatusGatewayTimeout,
		ErrOtpTimeout:         http.StatusGatewayTimeout,
		ErrDriverFault:        http.StatusBadGateway,
		ErrBalanceNotFound:    http.StatusNotFound,
		io.EOF:                http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusOf(newStepError(err, PhaseCreated, "op", nil)); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}
