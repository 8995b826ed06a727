package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/api/dto"
	"github.com/spec-kit/clip-service/internal/domain"
	apperrors "github.com/spec-kit/clip-service/pkg/util"
)

// Session is the authenticated state returned by the gateway.
type Session struct {
	Identity        domain.Identity
	Role            domain.Role
	Token           string
	ExpiresAt       time.Time
	Migrated        int64
	TransferWarning bool
}

// AuthGateway is the remote authentication surface. Implementations must
// return typed domain errors so callers can branch on failure class without
// string matching.
type AuthGateway interface {
	Login(ctx context.Context, email, password, priorIdentityID string) (*Session, error)
	Register(ctx context.Context, email, password, priorIdentityID string) (*Session, error)
}

// Client is the HTTP AuthGateway against the clip-service API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a gateway client. A zero timeout gets a sane default so a
// dead server cannot hang an authentication attempt forever.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Login exchanges credentials for a permanent identity and token.
func (c *Client) Login(ctx context.Context, email, password, priorIdentityID string) (*Session, error) {
	req := dto.LoginRequest{Email: email, Password: password}
	if priorIdentityID != "" {
		req.PriorIdentityID = &priorIdentityID
	}
	return c.post(ctx, "/auth/login", req)
}

// Register creates an account and returns the issued permanent identity.
func (c *Client) Register(ctx context.Context, email, password, priorIdentityID string) (*Session, error) {
	req := dto.RegisterRequest{Email: email, Password: password}
	if priorIdentityID != "" {
		req.PriorIdentityID = &priorIdentityID
	}
	return c.post(ctx, "/auth/register", req)
}

// Guest mints a server-issued guest identity and token.
func (c *Client) Guest(ctx context.Context) (*Session, error) {
	return c.post(ctx, "/auth/guest", struct{}{})
}

// IssueGuest adapts Guest to the privileged identity manager's issuer
// dependency, so every guest the manager hands out has a server row and a
// usable token.
func (c *Client) IssueGuest(ctx context.Context) (domain.Identity, string, error) {
	session, err := c.Guest(ctx)
	if err != nil {
		return domain.Identity{}, "", err
	}
	return session.Identity, session.Token, nil
}

type dataEnvelope struct {
	Data dto.AuthResponse `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, payload any) (*Session, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		c.logger.Warn("gateway request failed", zap.String("path", path), zap.Error(err))
		return nil, apperrors.NewNetworkError(err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, apperrors.NewNetworkError(err)
	}

	if response.StatusCode >= 400 {
		return nil, c.mapFailure(response.StatusCode, raw)
	}

	var envelope dataEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("malformed gateway response: %w", err))
	}

	data := envelope.Data
	kind := domain.IdentityKind(data.Identity.Kind)
	if !kind.Valid() {
		return nil, apperrors.NewInternalError(fmt.Errorf("gateway returned unknown identity kind %q", data.Identity.Kind))
	}
	return &Session{
		Identity:        domain.Identity{ID: data.Identity.ID, Kind: kind, CreatedAt: time.Now()},
		Role:            domain.Role(data.Role),
		Token:           data.Token,
		ExpiresAt:       data.ExpiresAt,
		Migrated:        data.Migrated,
		TransferWarning: data.TransferWarning,
	}, nil
}

// mapFailure folds HTTP failures into the domain error taxonomy. The server
// message is preserved where it is user-facing.
func (c *Client) mapFailure(status int, raw []byte) error {
	var envelope errorEnvelope
	_ = json.Unmarshal(raw, &envelope)
	message := envelope.Error.Message

	switch status {
	case http.StatusBadRequest:
		if message == "" {
			message = "invalid request"
		}
		return apperrors.NewValidationError(message, nil)
	case http.StatusUnauthorized:
		return apperrors.NewInvalidCredentials()
	case http.StatusForbidden:
		if message == "" {
			message = "account is not allowed to sign in"
		}
		return apperrors.NewForbidden(message)
	case http.StatusConflict:
		if message == "" {
			message = "email already registered"
		}
		return apperrors.NewConflict(message, nil)
	default:
		return apperrors.NewInternalError(fmt.Errorf("gateway returned status %d: %s", status, message))
	}
}
