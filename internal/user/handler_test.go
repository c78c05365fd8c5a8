package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/lmarchetti/credence/internal/app"
	"github.com/lmarchetti/credence/internal/apperror"
	"github.com/lmarchetti/credence/internal/config"
	"github.com/lmarchetti/credence/internal/token"
)

// --- Mock Account Service ---

// mockAccountService implements AccountService for handler tests.
type mockAccountService struct {
	registerFn       func(ctx context.Context, req RegisterRequest) (*User, error)
	verifyEmailFn    func(ctx context.Context, uid, tok string) error
	loginFn          func(ctx context.Context, req LoginRequest) (*TokenPair, error)
	logoutFn         func(ctx context.Context, refresh string) error
	changePasswordFn func(ctx context.Context, u *User, req ChangePasswordRequest) error
	requestResetFn   func(ctx context.Context, email string) error
	completeResetFn  func(ctx context.Context, uid, tok string, req ResetPasswordRequest) error
	updateNameFn     func(ctx context.Context, u *User, req UpdateNameRequest) error
	deleteAccountFn  func(ctx context.Context, u *User) error
	getUserFn        func(ctx context.Context, id string) (*User, error)
}

func (m *mockAccountService) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return &User{ID: "new-id", Username: req.Username, Email: req.Email}, nil
}

func (m *mockAccountService) VerifyEmail(ctx context.Context, uid, tok string) error {
	if m.verifyEmailFn != nil {
		return m.verifyEmailFn(ctx, uid, tok)
	}
	return nil
}

func (m *mockAccountService) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, req)
	}
	return &TokenPair{Refresh: "refresh-token", Access: "access-token"}, nil
}

func (m *mockAccountService) Logout(ctx context.Context, refresh string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, refresh)
	}
	return nil
}

func (m *mockAccountService) ChangePassword(ctx context.Context, u *User, req ChangePasswordRequest) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, u, req)
	}
	return nil
}

func (m *mockAccountService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestResetFn != nil {
		return m.requestResetFn(ctx, email)
	}
	return nil
}

func (m *mockAccountService) CompletePasswordReset(ctx context.Context, uid, tok string, req ResetPasswordRequest) error {
	if m.completeResetFn != nil {
		return m.completeResetFn(ctx, uid, tok, req)
	}
	return nil
}

func (m *mockAccountService) UpdateName(ctx context.Context, u *User, req UpdateNameRequest) error {
	if m.updateNameFn != nil {
		return m.updateNameFn(ctx, u, req)
	}
	return nil
}

func (m *mockAccountService) DeleteAccount(ctx context.Context, u *User) error {
	if m.deleteAccountFn != nil {
		return m.deleteAccountFn(ctx, u)
	}
	return nil
}

func (m *mockAccountService) GetUser(ctx context.Context, id string) (*User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, id)
	}
	return nil, apperror.NewUnauthorized("authentication required")
}

// --- Test Helpers ---

// newTestEcho builds an Echo instance through the app bootstrap so requests
// run with the real global middleware and error handler, and mounts the
// account routes against the given mocks.
func newTestEcho(service AccountService, issuer TokenIssuer) *echo.Echo {
	cfg := &config.Config{
		Env:                "development",
		Port:               0,
		BaseURL:            "http://localhost:8080",
		CORSAllowedOrigins: []string{"https://app.example.com"},
	}
	a := app.New(cfg, nil, nil)
	RegisterRoutes(a.Echo, NewHandler(service, issuer), service, issuer)
	return a.Echo
}

func doJSON(e *echo.Echo, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body %q: %v", rec.Body.String(), err)
	}
	return body
}

// --- Tests ---

func TestHandler_Register_Created(t *testing.T) {
	e := newTestEcho(&mockAccountService{}, &mockIssuer{})

	rec := doJSON(e, http.MethodPost, "/users/register",
		`{"username":"alice","email":"alice@example.com","password":"pw123456","password_conf":"pw123456"}`, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["message"] == "" {
		t.Error("expected a confirmation message")
	}
}

func TestHandler_Register_FieldErrorJSON(t *testing.T) {
	svc := &mockAccountService{
		registerFn: func(ctx context.Context, req RegisterRequest) (*User, error) {
			return nil, apperror.NewFieldValidation("email", "user with this Email Address already exists.")
		},
	}
	e := newTestEcho(svc, &mockIssuer{})

	rec := doJSON(e, http.MethodPost, "/users/register",
		`{"username":"alice","email":"alice@example.com","password":"pw123456","password_conf":"pw123456"}`, nil)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	fields, ok := body["fields"].(map[string]any)
	if !ok || fields["email"] == "" {
		t.Errorf("expected field-scoped error on email, got %v", body)
	}
}

func TestHandler_Login_ReturnsPair(t *testing.T) {
	e := newTestEcho(&mockAccountService{}, &mockIssuer{})

	rec := doJSON(e, http.MethodPost, "/users/login",
		`{"username":"alice","password":"pw123456"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["refresh"] != "refresh-token" || body["access"] != "access-token" {
		t.Errorf("expected token pair in response, got %v", body)
	}
}

func TestHandler_Refresh_ReturnsAccess(t *testing.T) {
	issuer := &mockIssuer{
		accessFromRefreshFn: func(ctx context.Context, refresh string) (string, error) {
			if refresh != "refresh-token" {
				t.Errorf("expected refresh-token, got %s", refresh)
			}
			return "fresh-access", nil
		},
	}
	e := newTestEcho(&mockAccountService{}, issuer)

	rec := doJSON(e, http.MethodPost, "/users/login/refresh", `{"refresh":"refresh-token"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["access"] != "fresh-access" {
		t.Errorf("expected fresh access token, got %v", body)
	}
}

func TestHandler_Refresh_InvalidToken(t *testing.T) {
	issuer := &mockIssuer{
		accessFromRefreshFn: func(ctx context.Context, refresh string) (string, error) {
			return "", token.ErrInvalidToken
		},
	}
	e := newTestEcho(&mockAccountService{}, issuer)

	rec := doJSON(e, http.MethodPost, "/users/login/refresh", `{"refresh":"bad"}`, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Refresh_StoreFailure(t *testing.T) {
	issuer := &mockIssuer{
		accessFromRefreshFn: func(ctx context.Context, refresh string) (string, error) {
			// A Redis outage surfaces as a wrapped error, not a token sentinel.
			return "", fmt.Errorf("checking blacklist: %w", errors.New("connection refused"))
		},
	}
	e := newTestEcho(&mockAccountService{}, issuer)

	rec := doJSON(e, http.MethodPost, "/users/login/refresh", `{"refresh":"refresh-token"}`, nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for an infrastructure failure, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Profile_RequiresAuth(t *testing.T) {
	e := newTestEcho(&mockAccountService{}, &mockIssuer{})

	rec := doJSON(e, http.MethodGet, "/users/profile", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Profile_WithToken(t *testing.T) {
	issuer := &mockIssuer{
		parseAccessFn: func(access string) (string, error) {
			if access != "good-access" {
				return "", token.ErrInvalidToken
			}
			return "user-1", nil
		},
	}
	svc := &mockAccountService{
		getUserFn: func(ctx context.Context, id string) (*User, error) {
			return &User{
				ID:           id,
				Username:     "alice",
				Email:        "alice@example.com",
				PasswordHash: "must-not-leak",
			}, nil
		},
	}
	e := newTestEcho(svc, issuer)

	header := http.Header{}
	header.Set(echo.HeaderAuthorization, "Bearer good-access")
	rec := doJSON(e, http.MethodGet, "/users/profile", "", header)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["username"] != "alice" {
		t.Errorf("expected profile body, got %v", body)
	}
	if strings.Contains(rec.Body.String(), "must-not-leak") {
		t.Error("expected password hash to never appear in responses")
	}
}

func TestHandler_Profile_ExpiredToken(t *testing.T) {
	issuer := &mockIssuer{
		parseAccessFn: func(access string) (string, error) {
			return "", token.ErrExpiredToken
		},
	}
	e := newTestEcho(&mockAccountService{}, issuer)

	header := http.Header{}
	header.Set(echo.HeaderAuthorization, "Bearer stale-access")
	rec := doJSON(e, http.MethodGet, "/users/profile", "", header)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Logout_NoContent(t *testing.T) {
	issuer := &mockIssuer{
		parseAccessFn: func(access string) (string, error) { return "user-1", nil },
	}
	svc := &mockAccountService{
		getUserFn: func(ctx context.Context, id string) (*User, error) {
			return &User{ID: id, Username: "alice"}, nil
		},
	}
	e := newTestEcho(svc, issuer)

	header := http.Header{}
	header.Set(echo.HeaderAuthorization, "Bearer good-access")
	rec := doJSON(e, http.MethodPost, "/users/logout", `{"refresh":"refresh-token"}`, header)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_DeleteProfile_NoContent(t *testing.T) {
	issuer := &mockIssuer{
		parseAccessFn: func(access string) (string, error) { return "user-1", nil },
	}
	deleted := false
	svc := &mockAccountService{
		getUserFn: func(ctx context.Context, id string) (*User, error) {
			return &User{ID: id, Username: "alice"}, nil
		},
		deleteAccountFn: func(ctx context.Context, u *User) error {
			deleted = true
			return nil
		},
	}
	e := newTestEcho(svc, issuer)

	header := http.Header{}
	header.Set(echo.HeaderAuthorization, "Bearer good-access")
	rec := doJSON(e, http.MethodDelete, "/users/profile", "", header)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if !deleted {
		t.Error("expected account deletion to be invoked")
	}
}

func TestHandler_CORS_AllowsConfiguredFrontend(t *testing.T) {
	e := newTestEcho(&mockAccountService{}, &mockIssuer{})

	header := http.Header{}
	header.Set("Origin", "https://app.example.com")
	rec := doJSON(e, http.MethodPost, "/users/login", `{"username":"alice","password":"pw123456"}`, header)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected configured frontend origin to be allowed, got %q", got)
	}

	// An origin outside the allowlist gets no CORS headers.
	header.Set("Origin", "https://evil.example.com")
	rec = doJSON(e, http.MethodPost, "/users/login", `{"username":"alice","password":"pw123456"}`, header)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS headers for unlisted origin, got %q", got)
	}
}

func TestHandler_VerifyEmail_PathParams(t *testing.T) {
	var gotUID, gotTok string
	svc := &mockAccountService{
		verifyEmailFn: func(ctx context.Context, uid, tok string) error {
			gotUID, gotTok = uid, tok
			return nil
		},
	}
	e := newTestEcho(svc, &mockIssuer{})

	rec := doJSON(e, http.MethodPost, "/users/verify_email/some-uid/some-token", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotUID != "some-uid" || gotTok != "some-token" {
		t.Errorf("expected path params passed through, got uid=%q token=%q", gotUID, gotTok)
	}
}
