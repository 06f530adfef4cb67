// Package transport issues authenticated requests against the scheduling service and refreshes expired credentials.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/qcs/internal/credentials"
	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second
	// DefaultRefreshDelay is the pause before the second refresh attempt.
	DefaultRefreshDelay = 800 * time.Millisecond

	maxResponseSize = 10 << 20

	headerAuthorization = "Authorization"
	headerMachineToken  = "X-QMI-AUTH-TOKEN"
	headerUserID        = "X-User-Id"
	headerAdminKey      = "X-Forest-Admin-Key"
	headerRequestID     = "X-Request-Id"

	userRefreshPath    = "/auth/idp/oauth2/v1/token"
	machineRefreshPath = "/auth/qmi/refresh"
)

var userRefreshScopes = []string{"openid", "email", "profile", "offline_access"}

// TokenStore supplies the active credential and persists refreshed pairs.
type TokenStore interface {
	Active() (credentials.Active, bool)
	Save(kind credentials.Kind, token credentials.Token) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config holds the settings for NewClient.
type Config struct {
	BaseURL      string
	QCSURL       string
	UserID       string
	AdminKey     string
	UserAgent    string
	HTTPClient   *http.Client
	Logger       *zap.Logger
	Sleep        Sleeper
	RefreshDelay time.Duration
}

// Request describes one call. Body is JSON-encoded; Form, when set, is sent url-encoded instead.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Form   url.Values
	Header http.Header
}

// Client is the authenticated request client. It is not safe for concurrent use.
type Client struct {
	baseURL      string
	qcsURL       string
	userID       string
	adminKey     string
	userAgent    string
	httpClient   *http.Client
	logger       *zap.Logger
	sleep        Sleeper
	refreshDelay time.Duration
	tokens       TokenStore

	refreshAttempts int
}

// NewClient validates config and returns a client bound to tokens.
func NewClient(config Config, tokens TokenStore) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", qcs.ErrInvalidConfig)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: base url %q: %v", qcs.ErrInvalidConfig, baseURL, err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("%w: token store is required", qcs.ErrInvalidConfig)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	refreshDelay := config.RefreshDelay
	if refreshDelay <= 0 {
		refreshDelay = DefaultRefreshDelay
	}
	return &Client{
		baseURL:      baseURL,
		qcsURL:       strings.TrimRight(config.QCSURL, "/"),
		userID:       strings.TrimSpace(config.UserID),
		adminKey:     strings.TrimSpace(config.AdminKey),
		userAgent:    config.UserAgent,
		httpClient:   httpClient,
		logger:       logger,
		sleep:        sleep,
		refreshDelay: refreshDelay,
		tokens:       tokens,
	}, nil
}

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RefreshAttempts returns how many refresh calls this client has made.
func (client *Client) RefreshAttempts() int {
	return client.refreshAttempts
}

// Do sends request. A 401 or 403 refreshes the active credential and retries once.
func (client *Client) Do(ctx context.Context, request Request) (Payload, error) {
	payload, err := client.send(ctx, request)
	if !IsAuthFailure(err) {
		return payload, err
	}
	if _, ok := client.tokens.Active(); !ok {
		return Payload{}, &AuthError{QCSURL: client.qcsURL, Err: err}
	}
	client.logger.Debug("refreshing credential after auth failure", zap.String("path", request.Path), zap.Error(err))
	if refreshErr := client.Refresh(ctx); refreshErr != nil {
		return Payload{}, &AuthError{QCSURL: client.qcsURL, Err: refreshErr}
	}
	payload, err = client.send(ctx, request)
	if IsAuthFailure(err) {
		return Payload{}, &AuthError{QCSURL: client.qcsURL, Err: err}
	}
	return payload, err
}

// Refresh exchanges the active refresh token for a new pair and saves it.
// Only the first refresh of a client instance gets a delayed second attempt.
func (client *Client) Refresh(ctx context.Context) error {
	client.refreshAttempts++
	err := client.refreshActive(ctx)
	if err == nil || client.refreshAttempts != 1 {
		return err
	}
	client.logger.Warn("credential refresh failed, retrying", zap.Duration("delay", client.refreshDelay), zap.Error(err))
	if sleepErr := client.sleep(ctx, client.refreshDelay); sleepErr != nil {
		return sleepErr
	}
	client.refreshAttempts++
	return client.refreshActive(ctx)
}

func (client *Client) refreshActive(ctx context.Context) error {
	active, ok := client.tokens.Active()
	if !ok {
		return fmt.Errorf("%w: no credential to refresh", qcs.ErrNoCredentials)
	}
	if active.Token.RefreshToken == "" {
		return fmt.Errorf("refresh token required to refresh %s access token", active.Kind)
	}
	var request Request
	switch active.Kind {
	case credentials.KindUser:
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", active.Token.RefreshToken)
		for _, scope := range userRefreshScopes {
			form.Add("scopes", scope)
		}
		form.Set("redirect_uri", client.qcsURL)
		request = Request{
			Method: http.MethodPost,
			Path:   userRefreshPath,
			Form:   form,
			Header: http.Header{"Cache-Control": []string{"no-cache"}},
		}
	case credentials.KindMachine:
		request = Request{Method: http.MethodPost, Path: machineRefreshPath, Body: active.Token}
	default:
		return fmt.Errorf("unknown credential kind %q", active.Kind)
	}
	payload, err := client.send(ctx, request)
	if err != nil {
		return fmt.Errorf("refresh %s credential: %w", active.Kind, err)
	}
	if payload.Variant != VariantSuccess {
		return fmt.Errorf("refresh %s credential: unexpected %s payload", active.Kind, payload.Variant)
	}
	var refreshed credentials.Token
	if err := payload.Decode(&refreshed); err != nil {
		return fmt.Errorf("refresh %s credential: %w", active.Kind, err)
	}
	if refreshed.AccessToken == "" {
		return fmt.Errorf("refresh %s credential: %w", active.Kind, qcs.MissingPropertyError("access_token"))
	}
	if err := client.tokens.Save(active.Kind, refreshed); err != nil {
		return fmt.Errorf("save refreshed %s credential: %w", active.Kind, err)
	}
	return nil
}

func (client *Client) send(ctx context.Context, request Request) (Payload, error) {
	httpRequest, err := client.newHTTPRequest(ctx, request)
	if err != nil {
		return Payload{}, err
	}
	requestID := httpRequest.Header.Get(headerRequestID)
	started := time.Now()
	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return Payload{}, &TransportError{Method: request.Method, Path: request.Path, Err: err}
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return Payload{}, &TransportError{Method: request.Method, Path: request.Path, Err: err}
	}
	client.logger.Debug("request completed",
		zap.String("method", request.Method),
		zap.String("path", request.Path),
		zap.Int("status", response.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(started)),
	)
	return classify(request, response.StatusCode, body)
}

func (client *Client) newHTTPRequest(ctx context.Context, request Request) (*http.Request, error) {
	requestURL := client.baseURL + request.Path
	if len(request.Query) > 0 {
		requestURL += "?" + request.Query.Encode()
	}
	var bodyReader io.Reader
	contentType := ""
	switch {
	case request.Form != nil:
		bodyReader = strings.NewReader(request.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case request.Body != nil:
		encoded, err := json.Marshal(request.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", request.Method, request.Path, err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create %s %s request: %w", request.Method, request.Path, err)
	}
	for name, values := range request.Header {
		for _, value := range values {
			httpRequest.Header.Add(name, value)
		}
	}
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	httpRequest.Header.Set("Accept", "application/json")
	httpRequest.Header.Set(headerRequestID, uuid.NewString())
	if client.userAgent != "" {
		httpRequest.Header.Set("User-Agent", client.userAgent)
	}
	client.applyIdentity(httpRequest.Header)
	return httpRequest, nil
}

// applyIdentity sets exactly one credential header, preferring the user token.
func (client *Client) applyIdentity(header http.Header) {
	if active, ok := client.tokens.Active(); ok {
		switch active.Kind {
		case credentials.KindUser:
			header.Set(headerAuthorization, "Bearer "+active.Token.AccessToken)
		case credentials.KindMachine:
			header.Set(headerMachineToken, active.Token.AccessToken)
		}
	}
	if client.userID != "" {
		header.Set(headerUserID, client.userID)
	}
	if client.adminKey != "" {
		header.Set(headerAdminKey, client.adminKey)
	}
}

func classify(request Request, statusCode int, body []byte) (Payload, error) {
	payload, isObject, decodeErr := decodeObject(statusCode, body)
	switch statusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		if isObject {
			return payload, nil
		}
		if statusCode != http.StatusOK && decodeErr == nil {
			return Payload{Variant: VariantEmpty, StatusCode: statusCode}, nil
		}
		return Payload{}, &MalformedResponseError{Method: request.Method, Path: request.Path, StatusCode: statusCode, Err: decodeErr}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		statusError := &StatusError{Method: request.Method, Path: request.Path, StatusCode: statusCode, Text: StatusText(statusCode)}
		if isObject && payload.Variant == VariantError {
			if statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound {
				return payload, nil
			}
			statusError.Server = payload.Err
		}
		return Payload{}, statusError
	default:
		statusError := &StatusError{Method: request.Method, Path: request.Path, StatusCode: statusCode, Text: StatusText(statusCode)}
		if isObject && payload.Variant == VariantError {
			statusError.Server = payload.Err
		}
		return Payload{}, statusError
	}
}

// IsTransportFailure reports whether err means no response was obtained.
func IsTransportFailure(err error) bool {
	var transportError *TransportError
	return errors.As(err, &transportError)
}
