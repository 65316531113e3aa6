package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/access-control-plane/auth"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/services"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*auth.ParsedClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.ParsedClaims), args.Error(1)
}

// MockRecorder is a mock implementation of AuthenticationRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordAuthentication(ctx context.Context, id uuid.UUID, at time.Time) (*models.User, error) {
	args := m.Called(ctx, id, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func testClaims() *auth.ParsedClaims {
	now := time.Now().UTC().Truncate(time.Second)
	return &auth.ParsedClaims{
		Sub:       uuid.New(),
		Email:     "token@example.com",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token in Authorization header allows request", func(t *testing.T) {
		validator := new(MockTokenValidator)
		recorder := new(MockRecorder)
		mw := NewAuthMiddleware(validator, recorder, logger)

		claims := testClaims()
		user := &models.User{ID: claims.Sub, Email: "jane@vrvsecurity.com"}
		validator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)
		recorder.On("RecordAuthentication", mock.Anything, claims.Sub, claims.IssuedAt).Return(user, nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			if assert.NotNil(t, principal) {
				assert.Equal(t, claims.Sub, principal.UserID)
				assert.Equal(t, "jane@vrvsecurity.com", principal.Email)
				assert.Equal(t, claims.IssuedAt, principal.IssuedAt)
			}
			assert.Equal(t, claims.Sub.String(), ActorFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		validator.AssertExpectations(t)
		recorder.AssertExpectations(t)
	})

	t.Run("valid token in cookie allows request", func(t *testing.T) {
		validator := new(MockTokenValidator)
		recorder := new(MockRecorder)
		mw := NewAuthMiddleware(validator, recorder, logger)

		claims := testClaims()
		validator.On("ValidateToken", mock.Anything, "cookie-token-value").Return(claims, nil)
		recorder.On("RecordAuthentication", mock.Anything, claims.Sub, claims.IssuedAt).
			Return(&models.User{ID: claims.Sub, Email: claims.Email}, nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token-value"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		validator.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		validator := new(MockTokenValidator)
		recorder := new(MockRecorder)
		mw := NewAuthMiddleware(validator, recorder, logger)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		validator.AssertNotCalled(t, "ValidateToken")
	})

	t.Run("invalid authorization header format returns 401", func(t *testing.T) {
		validator := new(MockTokenValidator)
		recorder := new(MockRecorder)
		mw := NewAuthMiddleware(validator, recorder, logger)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		validator := new(MockTokenValidator)
		recorder := new(MockRecorder)
		mw := NewAuthMiddleware(validator, recorder, logger)

		validator.On("ValidateToken", mock.Anything, "bad-token").Return(nil, auth.ErrTokenExpired)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		recorder.AssertNotCalled(t, "RecordAuthentication")
	})

	t.Run("unknown user returns 401", func(t *testing.T) {
		validator := new(MockTokenValidator)
		recorder := new(MockRecorder)
		mw := NewAuthMiddleware(validator, recorder, logger)

		claims := testClaims()
		validator.On("ValidateToken", mock.Anything, "orphan-token").Return(claims, nil)
		recorder.On("RecordAuthentication", mock.Anything, claims.Sub, claims.IssuedAt).
			Return(nil, services.NewNotFoundError("user", claims.Sub))

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer orphan-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("recording failure does not block the request", func(t *testing.T) {
		validator := new(MockTokenValidator)
		recorder := new(MockRecorder)
		mw := NewAuthMiddleware(validator, recorder, logger)

		claims := testClaims()
		validator.On("ValidateToken", mock.Anything, "busy-token").Return(claims, nil)
		recorder.On("RecordAuthentication", mock.Anything, claims.Sub, claims.IssuedAt).
			Return(nil, services.NewTimeoutError(errors.New("deadline")))

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipalFromContext(r.Context())
			if assert.NotNil(t, principal) {
				assert.Equal(t, claims.Email, principal.Email)
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer busy-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestExtractToken(t *testing.T) {
	t.Run("header takes precedence over cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "bearer header-token")
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})

		assert.Equal(t, "header-token", extractToken(req))
	})

	t.Run("empty when nothing is present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		assert.Empty(t, extractToken(req))
	})
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestIDFromContext(ctx))
	assert.Nil(t, GetPrincipalFromContext(ctx))
	assert.Equal(t, "anonymous", ActorFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestIDFromContext(ctx))

	p := &Principal{UserID: uuid.New()}
	ctx = WithPrincipal(ctx, p)
	assert.Same(t, p, GetPrincipalFromContext(ctx))
}
