package client

import (
	"bytes"
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ledgerly/servicing-app/log"
)

// ErrTimeout is returned when the account API does not answer within the
// per-call timeout.
var ErrTimeout = goerrors.New("account API call timed out")

// APIError is a non-2xx answer from the account API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("account API returned %d: %s", e.StatusCode, e.Body)
}

// AccountAPI is the third-party account management service.
type AccountAPI interface {
	SuspendAccount(ctx context.Context, accountID int64, subtype string) error
	CloseAccount(ctx context.Context, accountID int64) error
	DisableCards(ctx context.Context, accountID int64) error
	CancelAccount(ctx context.Context, accountID int64, subtype string, refund bool) error
}

type Config struct {
	BaseURL   string `conf:"ACCOUNT_API_BASE_URL"`
	TimeoutMs int    `conf:"ACCOUNT_API_TIMEOUT_MS" conf_default:"5000"`
	RetryMax  int    `conf:"ACCOUNT_API_RETRY_MAX" conf_default:"2"`
}

type AccountAPIClient struct {
	baseURL string
	timeout time.Duration
	client  *retryablehttp.Client
	logger  logrus.FieldLogger
}

func NewAccountAPIClient(cfg Config) (*AccountAPIClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ACCOUNT_API_BASE_URL must be set")
	}
	if cfg.TimeoutMs <= 0 {
		log.AccountAPI.Info("Could not get account API timeout from config; using default value of 5000.")
		cfg.TimeoutMs = 5000
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = log.AccountAPI
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &AccountAPIClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		client:  rc,
		logger:  log.AccountAPI,
	}, nil
}

// retryPolicy retries failed connections, 429 and 503 only. Every call is a
// POST that changes account state, and any other 5xx may come after the change
// was applied.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, nil
	default:
		return false, nil
	}
}

type subtypeBody struct {
	Subtype string `json:"subtype,omitempty"`
	Refund  *bool  `json:"refund,omitempty"`
}

func (c *AccountAPIClient) SuspendAccount(ctx context.Context, accountID int64, subtype string) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/suspend", accountID), subtypeBody{Subtype: subtype})
}

func (c *AccountAPIClient) CloseAccount(ctx context.Context, accountID int64) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/close", accountID), nil)
}

func (c *AccountAPIClient) DisableCards(ctx context.Context, accountID int64) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/cards/disable", accountID), nil)
}

func (c *AccountAPIClient) CancelAccount(ctx context.Context, accountID int64, subtype string, refund bool) error {
	return c.post(ctx, fmt.Sprintf("/accounts/%d/cancel", accountID), subtypeBody{Subtype: subtype, Refund: &refund})
}

func (c *AccountAPIClient) post(ctx context.Context, path string, body interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errors.Wrap(err, "failed to encode account API request")
		}
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build account API request")
	}
	req = req.WithContext(ctx)
	reqID := uuid.NewRandom().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	logger := c.logger.WithFields(logrus.Fields{"request_id": reqID, "uri": path})
	resp, err := c.client.Do(req)
	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn("Account API request timed out")
		return errors.Wrap(ErrTimeout, path)
	}
	if err != nil {
		logger.Errorf("Account API request failed: %s", err)
		return errors.Wrapf(err, "account API request %s failed", path)
	}
	defer resp.Body.Close()

	logger.WithField("resp_code", resp.StatusCode).Info("Account API response")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return nil
}
