// Package oauth implements the OAuth 2.0 Device Authorization Grant
// (RFC 8628) against GitHub's device-code and token endpoints, plus the
// Copilot-specific token-metadata quota check, and wires newly acquired
// credentials into a pool.Pool.
package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"copilot-gateway/internal/config"
	"copilot-gateway/internal/pool"
)

// Sentinel errors for the fatal outcomes of the device flow. Non-fatal
// outcomes (authorization_pending, slow_down) are handled internally by
// PollForAuthorization and never escape it.
var (
	ErrMisconfiguredClient = errors.New("oauth: client id is not configured")
	ErrTransport           = errors.New("oauth: transport error")
	ErrMalformedResponse   = errors.New("oauth: malformed upstream response")
	ErrDeviceCodeExpired   = errors.New("oauth: device code expired")
	ErrAccessDenied        = errors.New("oauth: user denied access")
	ErrInvalidDeviceCode   = errors.New("oauth: incorrect device code")
	ErrAuthorizationTimeout = errors.New("oauth: authorization timed out")
)

// AuthorizationError wraps an unrecognized error code returned by the token
// endpoint during polling.
type AuthorizationError struct {
	Code string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("oauth: authorization error %q", e.Code)
}

// DeviceAuthorization is the transient record of an in-progress device flow.
type DeviceAuthorization struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       int
	Interval        int
}

// QuotaInfo is the subset of the token-metadata response this controller
// cares about.
type QuotaInfo struct {
	Chat int
}

// AddAccountResult is the outcome of a full add-account orchestration.
type AddAccountResult struct {
	AccessToken string
	Quota       QuotaInfo
	Duplicate   bool
	Success     bool
}

// Controller drives the device flow and registers acquired credentials into
// a credential pool.
type Controller struct {
	cfg    *config.Config
	pool   *pool.Pool
	client *http.Client
}

// New builds a Controller targeting cfg's upstream endpoints, registering
// acquired credentials into p.
func New(cfg *config.Config, p *pool.Pool) *Controller {
	return &Controller{
		cfg:    cfg,
		pool:   p,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// RequestDeviceCode performs step 1 of the device flow: it asks GitHub to
// mint a device code and user code pair. Any failure here is fatal to the
// flow — unlike forwarding, the original contract never swallows these.
func (c *Controller) RequestDeviceCode() (*DeviceAuthorization, error) {
	if c.cfg.ClientID == "" {
		return nil, ErrMisconfiguredClient
	}

	form := url.Values{
		"client_id": {c.cfg.ClientID},
		"scope":     {config.DeviceFlowScope},
	}
	req, err := http.NewRequest(http.MethodPost, config.DeviceCodeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode)
	}

	var parsed deviceCodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.DeviceCode == "" || parsed.UserCode == "" || parsed.VerificationURI == "" {
		return nil, fmt.Errorf("%w: missing required fields", ErrMalformedResponse)
	}
	if parsed.Interval <= 0 {
		parsed.Interval = 5
	}

	return &DeviceAuthorization{
		DeviceCode:      parsed.DeviceCode,
		UserCode:        parsed.UserCode,
		VerificationURI: parsed.VerificationURI,
		ExpiresIn:       parsed.ExpiresIn,
		Interval:        parsed.Interval,
	}, nil
}

type tokenPollResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
	Interval    int    `json:"interval"`
}

// PollForAuthorization performs step 3: it polls the token endpoint until
// the user authorizes the device, a fatal error code is returned, or
// maxAttempts is exhausted.
func (c *Controller) PollForAuthorization(deviceCode string, interval, maxAttempts int) (string, error) {
	if deviceCode == "" {
		return "", fmt.Errorf("oauth: device code must not be empty")
	}
	if interval < 1 {
		interval = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(interval) * time.Second)
		}

		token, nextInterval, err := c.pollOnce(deviceCode, interval)
		if err != nil {
			if attempt == maxAttempts-1 {
				return "", err
			}
			var authErr *AuthorizationError
			if errors.As(err, &authErr) || errors.Is(err, ErrDeviceCodeExpired) ||
				errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidDeviceCode) ||
				errors.Is(err, ErrMalformedResponse) {
				return "", err
			}
			// transient transport error: keep polling
			continue
		}
		if token != "" {
			return token, nil
		}
		if nextInterval > 0 {
			interval = nextInterval
		}
	}

	return "", ErrAuthorizationTimeout
}

// pollOnce issues a single poll. It returns (token, 0, nil) on success,
// ("", 0, nil) on authorization_pending, ("", updatedInterval, nil) on
// slow_down, and a non-nil error for every other outcome. currentInterval is the caller's own
// tracked poll interval, bumped on slow_down per RFC 8628 — the response
// body carries no usable interval of its own on a real slow_down reply.
func (c *Controller) pollOnce(deviceCode string, currentInterval int) (token string, updatedInterval int, err error) {
	form := url.Values{
		"client_id":   {c.cfg.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {config.DeviceGrantType},
	}
	req, reqErr := http.NewRequest(http.MethodPost, config.AccessTokenURL, strings.NewReader(form.Encode()))
	if reqErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedResponse, reqErr)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, doErr := c.client.Do(req)
	if doErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrTransport, doErr)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrTransport, readErr)
	}

	var parsed tokenPollResponse
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedResponse, jsonErr)
	}

	if parsed.AccessToken != "" {
		return parsed.AccessToken, 0, nil
	}

	switch parsed.Error {
	case "authorization_pending":
		return "", 0, nil
	case "slow_down":
		return "", currentInterval + 5, nil
	case "expired_token":
		return "", 0, ErrDeviceCodeExpired
	case "access_denied":
		return "", 0, ErrAccessDenied
	case "incorrect_device_code":
		return "", 0, ErrInvalidDeviceCode
	case "":
		return "", 0, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	default:
		return "", 0, &AuthorizationError{Code: parsed.Error}
	}
}

type tokenMetadataResponse struct {
	Token             string `json:"token"`
	LimitedUserQuotas struct {
		Chat int `json:"chat"`
	} `json:"limited_user_quotas"`
}

// VerifyTokenQuota fetches a credential's current quota from the Copilot
// token-metadata endpoint. Note the lowercase "token" auth scheme here,
// distinct from the "Bearer" scheme used when forwarding chat completions.
func (c *Controller) VerifyTokenQuota(token string) (QuotaInfo, error) {
	req, err := http.NewRequest(http.MethodGet, config.TokenMetadataURL, nil)
	if err != nil {
		return QuotaInfo{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	req.Header.Set("Authorization", "token "+token)
	for k, v := range config.UpstreamHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return QuotaInfo{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return QuotaInfo{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var parsed tokenMetadataResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return QuotaInfo{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Token == "" {
		return QuotaInfo{}, fmt.Errorf("%w: missing token field", ErrMalformedResponse)
	}

	return QuotaInfo{Chat: parsed.LimitedUserQuotas.Chat}, nil
}

// VerifySpecificToken reports whether token currently has remaining chat
// quota. Unlike VerifyTokenQuota, it never returns an error: any transport
// or format failure is treated as "not usable right now".
func (c *Controller) VerifySpecificToken(token string) bool {
	quota, err := c.VerifyTokenQuota(token)
	if err != nil {
		return false
	}
	return quota.Chat > 0
}

// AddAccount runs the full device-code + poll + verify + insert
// orchestration and registers the resulting credential in the pool.
func (c *Controller) AddAccount() (*AddAccountResult, error) {
	auth, err := c.RequestDeviceCode()
	if err != nil {
		return nil, err
	}

	accessToken, err := c.PollForAuthorization(auth.DeviceCode, auth.Interval, 100)
	if err != nil {
		return nil, err
	}

	quota, err := c.VerifyTokenQuota(accessToken)
	if err != nil {
		return nil, err
	}

	if current, ok := c.pool.GetCurrent(); ok && current == accessToken {
		return &AddAccountResult{AccessToken: accessToken, Quota: quota, Duplicate: true, Success: false}, nil
	}

	if err := c.pool.Add(accessToken, quota.Chat, quota.Chat); err != nil {
		return nil, err
	}

	return &AddAccountResult{AccessToken: accessToken, Quota: quota, Duplicate: false, Success: true}, nil
}
