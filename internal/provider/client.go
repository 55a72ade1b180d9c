// Package provider implements the signed HTTP client for the upstream
// machine-translation API.
package provider

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/developer-mesh/translation-gateway/pkg/observability"
)

const (
	// DefaultBaseURL is the public endpoint of the provider
	DefaultBaseURL = "https://fanyi-api.baidu.com/api/trans/vip/translate"

	// DefaultQPS is the request rate allowed by the standard provider plan
	DefaultQPS = 10

	saltMin = 32768
	saltMax = 65536

	maxErrorBody = 512
)

// ErrEmptyResult is returned when a 2xx response carries no translation
var ErrEmptyResult = errors.New("provider returned no translation")

// HTTPError reports a non-2xx response
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
}

// APIError reports a provider-level error code in a 2xx response
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// Segment is one translated line
type Segment struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

// Response is the decoded provider payload
type Response struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	TransResult []Segment `json:"trans_result"`
	ErrorCode   errorCode `json:"error_code,omitempty"`
	ErrorMsg    string    `json:"error_msg,omitempty"`
}

// Text joins the translated segments with newlines
func (r *Response) Text() string {
	parts := make([]string, len(r.TransResult))
	for i, seg := range r.TransResult {
		parts[i] = seg.Dst
	}
	return strings.Join(parts, "\n")
}

// errorCode accepts both "54003" and 54003
type errorCode string

func (c *errorCode) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = errorCode(s)
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	*c = errorCode(string(data))
	return nil
}

// Config configures a Client
type Config struct {
	AppID      string
	SecretKey  string
	BaseURL    string
	QPS        float64
	Burst      int
	HTTPClient *http.Client
	Logger     observability.Logger
}

// Client calls the provider. It is safe for concurrent use.
type Client struct {
	appID      string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     observability.Logger
	salt       func() int
}

// NewClient creates a provider client. Per-call timeouts come from the
// context; the HTTP client carries no timeout of its own.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.QPS <= 0 {
		cfg.QPS = DefaultQPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.QPS)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}

	return &Client{
		appID:      cfg.AppID,
		secretKey:  cfg.SecretKey,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		logger:     cfg.Logger,
		salt: func() int {
			return saltMin + rand.Intn(saltMax-saltMin+1)
		},
	}
}

// Sign computes md5(appid + q + salt + secret) as lowercase hex
func Sign(appID, text, salt, secretKey string) string {
	sum := md5.Sum([]byte(appID + text + salt + secretKey))
	return hex.EncodeToString(sum[:])
}

// Translate sends one signed translation request. It blocks on the QPS
// limiter and honors ctx for both the wait and the HTTP call.
func (c *Client) Translate(ctx context.Context, text, from, to string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait")
	}

	salt := strconv.Itoa(c.salt())
	form := url.Values{
		"appid": {c.appID},
		"q":     {text},
		"from":  {from},
		"to":    {to},
		"salt":  {salt},
		"sign":  {Sign(c.appID, text, salt, c.secretKey)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build provider request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read provider response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode provider response")
	}

	if result.ErrorCode != "" && result.ErrorCode != "52000" {
		c.logger.Debug("Provider reported error", map[string]interface{}{
			"code":    string(result.ErrorCode),
			"message": result.ErrorMsg,
		})
		return nil, &APIError{Code: string(result.ErrorCode), Message: result.ErrorMsg}
	}

	if len(result.TransResult) == 0 {
		return nil, ErrEmptyResult
	}

	return &result, nil
}
