package xendit

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds credentials and endpoint settings for the Xendit API.
type Config struct {
	SecretKey     string        `env:"XENDIT_SECRET_KEY,required"`     // SecretKey authenticates API calls via basic auth.
	CallbackToken string        `env:"XENDIT_CALLBACK_TOKEN,required"` // CallbackToken is the shared secret Xendit sends in the X-CALLBACK-TOKEN header.
	BaseURL       string        `env:"XENDIT_BASE_URL" envDefault:"https://api.xendit.co"`
	HTTPTimeout   time.Duration `env:"XENDIT_HTTP_TIMEOUT" envDefault:"15s"` // HTTPTimeout caps a single API round trip; callers may tighten it via context.
}

var (
	ErrMissingSecretKey     = errors.New("xendit secret key is required")
	ErrMissingCallbackToken = errors.New("xendit callback token is required")
	ErrRequestFailed        = errors.New("xendit request failed")
)

// APIError carries the status code and message returned by the Xendit API.
type APIError struct {
	StatusCode int
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xendit: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client is a minimal Xendit REST API client covering the invoice lifecycle.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Xendit client. Credentials are validated eagerly so a
// misconfigured service fails at startup, not on the first payment.
func New(cfg Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingSecretKey
	}
	if cfg.CallbackToken == "" {
		return nil, ErrMissingCallbackToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.xendit.co"
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// VerifyCallbackToken reports whether a webhook's X-CALLBACK-TOKEN header
// matches the configured secret. The comparison is constant-time so the check
// does not leak information about the secret through response timing.
func (c *Client) VerifyCallbackToken(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(c.cfg.CallbackToken)) == 1
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Join(ErrRequestFailed, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	req.SetBasicAuth(c.cfg.SecretKey, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Best effort decode; Xendit error bodies are {error_code, message}.
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return errors.Join(ErrRequestFailed, apiErr)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Join(ErrRequestFailed, err)
		}
	}
	return nil
}
