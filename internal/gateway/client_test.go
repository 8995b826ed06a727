package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/clip-service/internal/api/dto"
	"github.com/spec-kit/clip-service/internal/domain"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

func authServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 2*time.Second, nil)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func TestClientLoginSuccess(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)

		var req dto.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a@b.test", req.Email)
		require.NotNil(t, req.PriorIdentityID)
		assert.Equal(t, "guest-1", *req.PriorIdentityID)

		_ = json.NewEncoder(w).Encode(map[string]any{"data": dto.AuthResponse{
			Token:     "jwt-token",
			ExpiresAt: time.Now().Add(time.Hour).UTC(),
			Identity:  dto.IdentityResponse{ID: "perm-1", Kind: "PERMANENT"},
			Role:      "USER",
			Migrated:  3,
		}})
	})

	session, err := client.Login(context.Background(), "a@b.test", "secret1", "guest-1")
	require.NoError(t, err)
	assert.Equal(t, "perm-1", session.Identity.ID)
	assert.Equal(t, domain.IdentityKindPermanent, session.Identity.Kind)
	assert.Equal(t, domain.RoleUser, session.Role)
	assert.Equal(t, "jwt-token", session.Token)
	assert.Equal(t, int64(3), session.Migrated)
}

func TestClientRegisterOmitsEmptyPriorIdentity(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req dto.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Nil(t, req.PriorIdentityID)

		_ = json.NewEncoder(w).Encode(map[string]any{"data": dto.AuthResponse{
			Token:    "jwt-token",
			Identity: dto.IdentityResponse{ID: "perm-1", Kind: "PERMANENT"},
			Role:     "USER",
		}})
	})

	_, err := client.Register(context.Background(), "a@b.test", "secret1", "")
	require.NoError(t, err)
}

func TestClientGuest(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/guest", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": dto.AuthResponse{
			Token:    "guest-jwt",
			Identity: dto.IdentityResponse{ID: "guest-1", Kind: "GUEST"},
			Role:     "GUEST",
		}})
	})

	session, err := client.Guest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "guest-1", session.Identity.ID)
	assert.Equal(t, domain.IdentityKindGuest, session.Identity.Kind)
	assert.Equal(t, domain.RoleGuest, session.Role)
}

func TestClientIssueGuest(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/guest", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": dto.AuthResponse{
			Token:    "guest-jwt",
			Identity: dto.IdentityResponse{ID: "guest-1", Kind: "GUEST"},
			Role:     "GUEST",
		}})
	})

	identity, token, err := client.IssueGuest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "guest-1", identity.ID)
	assert.Equal(t, domain.IdentityKindGuest, identity.Kind)
	assert.Equal(t, "guest-jwt", token)
}

func TestClientIssueGuestPropagatesFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(server.URL, time.Second, nil)

	_, _, err := client.IssueGuest(context.Background())
	require.Error(t, err)
	assert.Equal(t, "NETWORK_ERROR", apperrors.CodeOf(err))
}

func TestClientMapsUnauthorized(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
	})

	_, err := client.Login(context.Background(), "a@b.test", "wrong", "")
	require.Error(t, err)
	assert.Equal(t, "INVALID_CREDENTIALS", apperrors.CodeOf(err))
}

func TestClientMapsConflict(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusConflict, "CONFLICT", "email already registered")
	})

	_, err := client.Register(context.Background(), "a@b.test", "secret1", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "CONFLICT"))
}

func TestClientMapsValidation(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "valid email required")
	})

	_, err := client.Register(context.Background(), "not-an-email", "secret1", "")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", apperrors.CodeOf(err))
}

func TestClientMapsForbidden(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "account suspended")
	})

	_, err := client.Login(context.Background(), "a@b.test", "secret1", "")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", apperrors.CodeOf(err))
}

func TestClientNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(server.URL, time.Second, nil)

	_, err := client.Login(context.Background(), "a@b.test", "secret1", "")
	require.Error(t, err)
	assert.Equal(t, "NETWORK_ERROR", apperrors.CodeOf(err))
}

func TestClientRejectsUnknownIdentityKind(t *testing.T) {
	client := authServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": dto.AuthResponse{
			Token:    "jwt-token",
			Identity: dto.IdentityResponse{ID: "perm-1", Kind: "SUPERUSER"},
		}})
	})

	_, err := client.Login(context.Background(), "a@b.test", "secret1", "")
	require.Error(t, err)
	assert.Equal(t, "INTERNAL_ERROR", apperrors.CodeOf(err))
}
