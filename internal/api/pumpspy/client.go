package pumpspy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DefaultBaseURL is the vendor API host.
const DefaultBaseURL = "http://www.pumpspy.com:8081"

// Fixed client credential pair of the vendor's mobile app, sent on the token endpoint only.
const (
	clientID     = "IOS"
	clientSecret = "secret"
)

const defaultRetryDelay = time.Second

// Token is the bearer credential returned by /oauth/token.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Client talks to the Pumpspy cloud API for one user session.
// It is not safe for concurrent refreshes; callers keep one call chain in flight.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	baseURL    string
	username   string
	password   string
	retryDelay time.Duration

	mu    sync.RWMutex
	token *Token
	uid   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryDelay sets the fixed backoff between transport retries.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// NewClient creates a client for baseURL with the user's credentials.
func NewClient(baseURL, username, password string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Username returns the account the client authenticates as.
func (c *Client) Username() string {
	return c.username
}

// SetToken installs a token obtained elsewhere.
func (c *Client) SetToken(token *Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// GetToken returns the current token, or nil.
func (c *Client) GetToken() *Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// UserID returns the uid resolved by ResolveUserID.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

// Authenticate exchanges username and password for a bearer token.
// Transport failures are retried until ctx is done. The token is only replaced on success.
func (c *Client) Authenticate(ctx context.Context) error {
	const op = "authenticate"

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.username)
	form.Set("password", c.password)
	encoded := form.Encode()

	status, body, err := c.do(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(clientID, clientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		c.logger.Error("Error getting authorization", zap.Int("status", status), zap.String("body", string(body)))
		return &APIError{Op: op, StatusCode: status, Body: string(body)}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		c.logger.Error("Failed to decode token response", zap.Error(err))
		return &APIError{Op: op, StatusCode: status, Body: string(body), Err: err}
	}
	if token.AccessToken == "" {
		return &APIError{Op: op, StatusCode: status, Body: string(body), Err: fmt.Errorf("empty access token")}
	}
	token.CreatedAt = time.Now()

	c.SetToken(&token)
	c.logger.Debug("Got an access token", zap.String("username", c.username))
	return nil
}

// ResolveUserID looks up the uid of username and caches it on the client.
func (c *Client) ResolveUserID(ctx context.Context, username string) (string, error) {
	const op = "resolve user id"

	var users oneOrMany[User]
	if err := c.getJSON(ctx, op, "/users/email/"+url.PathEscape(username), &users); err != nil {
		return "", err
	}
	if len(users) == 0 || users[0].UID == "" {
		return "", &APIError{Op: op, StatusCode: http.StatusOK, Err: fmt.Errorf("no user returned for %s", username)}
	}

	uid := users[0].UID.String()
	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()

	c.logger.Debug("Got uid", zap.String("uid", uid))
	return uid, nil
}

// ListLocations returns the locations of the resolved user.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	uid := c.UserID()
	if uid == "" {
		return nil, ErrUserNotResolved
	}

	var locations []Location
	if err := c.getJSON(ctx, "list locations", "/locations/uid/"+url.PathEscape(uid), &locations); err != nil {
		return nil, err
	}
	c.logger.Debug("Got locations", zap.Int("count", len(locations)))
	return locations, nil
}

// ListDevices returns the devices registered at a location.
func (c *Client) ListDevices(ctx context.Context, locationID string) ([]Device, error) {
	var devices []Device
	if err := c.getJSON(ctx, "list devices", "/devices/lid/"+url.PathEscape(locationID), &devices); err != nil {
		return nil, err
	}
	c.logger.Debug("Got devices", zap.String("lid", locationID), zap.Int("count", len(devices)))
	return devices, nil
}

// ResolveDeviceInfo fetches the metadata of one device.
func (c *Client) ResolveDeviceInfo(ctx context.Context, deviceID string) (*Device, error) {
	const op = "resolve device info"

	var devices oneOrMany[Device]
	if err := c.getJSON(ctx, op, "/devices/deviceid/"+url.PathEscape(deviceID), &devices); err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, &APIError{Op: op, StatusCode: http.StatusOK, Err: fmt.Errorf("device %s not found", deviceID)}
	}
	return &devices[0], nil
}

// FetchCurrent fetches the current status record of a device.
func (c *Client) FetchCurrent(ctx context.Context, deviceID string, dt DeviceTypeInfo) ([]StatusRecord, error) {
	var records oneOrMany[StatusRecord]
	path := fmt.Sprintf("/%s/deviceid/%s", dt.Endpoint, url.PathEscape(deviceID))
	if err := c.getJSON(ctx, "fetch current", path, &records); err != nil {
		return nil, err
	}
	// a null body or an empty object carries no data
	out := lo.Reject([]StatusRecord(records), func(r StatusRecord, _ int) bool { return lo.IsEmpty(r) })
	if len(out) == 0 {
		return nil, &APIError{Op: "fetch current", StatusCode: http.StatusOK, Err: errNoRecords}
	}
	return out, nil
}

// FetchInterval fetches the aggregate of motor for interval.
func (c *Client) FetchInterval(ctx context.Context, deviceID string, dt DeviceTypeInfo, motor Motor, interval Interval) ([]IntervalRecord, error) {
	path, err := IntervalPath(deviceID, dt, motor, interval)
	if err != nil {
		return nil, err
	}

	var records oneOrMany[IntervalRecord]
	if err := c.getJSON(ctx, "fetch interval", path, &records); err != nil {
		return nil, err
	}
	// a null body or an empty object carries no data
	out := lo.Reject([]IntervalRecord(records), func(r IntervalRecord, _ int) bool { return lo.IsEmpty(r) })
	if len(out) == 0 {
		return nil, &APIError{Op: "fetch interval", StatusCode: http.StatusOK, Err: errNoRecords}
	}
	return out, nil
}

// IntervalPath builds the aggregate path. Devices without a backup motor have no motor segment.
func IntervalPath(deviceID string, dt DeviceTypeInfo, motor Motor, interval Interval) (string, error) {
	base := fmt.Sprintf("/%s_cycles/deviceid/%s", dt.IntervalEndpoint, url.PathEscape(deviceID))
	if !dt.HasBackup {
		if motor != MotorMain {
			return "", fmt.Errorf("device type %d has no %s motor", dt.Code, motor)
		}
		return fmt.Sprintf("%s/interval/%s", base, interval), nil
	}
	return fmt.Sprintf("%s/motor/%s/interval/%s", base, motor, interval), nil
}

// getJSON performs an authenticated GET and classifies the answer.
func (c *Client) getJSON(ctx context.Context, op, path string, dest any) error {
	token := c.GetToken()
	if token == nil {
		return ErrNotAuthenticated
	}

	status, body, err := c.do(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK:
		if err := json.Unmarshal(body, dest); err != nil {
			c.logger.Error("Failed to decode response", zap.String("op", op), zap.Error(err))
			return &APIError{Op: op, StatusCode: status, Body: string(body), Err: err}
		}
		return nil
	case status == http.StatusUnauthorized && isInvalidToken(body):
		c.logger.Debug("Access token rejected", zap.String("op", op))
		return ErrInvalidAccessToken
	default:
		c.logger.Error("Pumpspy API error", zap.String("op", op), zap.Int("status", status), zap.String("body", string(body)))
		return &APIError{Op: op, StatusCode: status, Body: string(body)}
	}
}

// do sends the request built by newReq until a response body has been read.
// Transport failures sleep retryDelay and retry; only ctx ends the loop early.
func (c *Client) do(ctx context.Context, op string, newReq func() (*http.Request, error)) (int, []byte, error) {
	for {
		req, err := newReq()
		if err != nil {
			return 0, nil, fmt.Errorf("%s: create request: %w", op, err)
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil {
				return resp.StatusCode, body, nil
			}
			err = readErr
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		c.logger.Debug("Oops, the server connection was dropped",
			zap.String("op", op),
			zap.Error(err),
			zap.Duration("retry_in", c.retryDelay))

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, nil, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func isInvalidToken(body []byte) bool {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return false
	}
	return eb.Error == "invalid_token"
}
