package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type AccountAPITestSuite struct {
	suite.Suite
	server *httptest.Server
	mux    *http.ServeMux
	client *AccountAPIClient
}

func TestAccountAPITestSuite(t *testing.T) {
	suite.Run(t, new(AccountAPITestSuite))
}

func (s *AccountAPITestSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)

	c, err := NewAccountAPIClient(Config{BaseURL: s.server.URL + "/", TimeoutMs: 200, RetryMax: 1})
	s.Require().NoError(err)
	c.client.RetryWaitMin = time.Millisecond
	c.client.RetryWaitMax = time.Millisecond
	s.client = c
}

func (s *AccountAPITestSuite) TearDownTest() {
	s.server.Close()
}

func (s *AccountAPITestSuite) TestSuspendSendsSubtype() {
	var got subtypeBody
	s.mux.HandleFunc("/accounts/42/suspend", func(w http.ResponseWriter, r *http.Request) {
		s.Equal(http.MethodPost, r.Method)
		s.NotEmpty(r.Header.Get("X-Request-ID"))
		s.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	s.NoError(s.client.SuspendAccount(context.Background(), 42, "FRAUD"))
	s.Equal("FRAUD", got.Subtype)
	s.Nil(got.Refund)
}

func (s *AccountAPITestSuite) TestCancelSendsRefundFlag() {
	var raw map[string]interface{}
	s.mux.HandleFunc("/accounts/7/cancel", func(w http.ResponseWriter, r *http.Request) {
		s.NoError(json.NewDecoder(r.Body).Decode(&raw))
	})

	s.NoError(s.client.CancelAccount(context.Background(), 7, "CST", false))
	s.Equal(false, raw["refund"])
	s.Equal("CST", raw["subtype"])
}

func (s *AccountAPITestSuite) TestCloseAndDisableCards() {
	var calls []string
	for _, p := range []string{"/accounts/9/close", "/accounts/9/cards/disable"} {
		p := p
		s.mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			s.Empty(b)
			calls = append(calls, p)
		})
	}

	s.NoError(s.client.DisableCards(context.Background(), 9))
	s.NoError(s.client.CloseAccount(context.Background(), 9))
	s.Equal([]string{"/accounts/9/cards/disable", "/accounts/9/close"}, calls)
}

func (s *AccountAPITestSuite) TestRejectionIsAPIError() {
	s.mux.HandleFunc("/accounts/1/close", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "account has pending balance", http.StatusUnprocessableEntity)
	})

	err := s.client.CloseAccount(context.Background(), 1)
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(http.StatusUnprocessableEntity, apiErr.StatusCode)
	s.Equal("account has pending balance", apiErr.Body)
}

func (s *AccountAPITestSuite) TestServerErrorIsRetried() {
	var attempts int32
	s.mux.HandleFunc("/accounts/1/close", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	s.NoError(s.client.CloseAccount(context.Background(), 1))
	s.EqualValues(2, atomic.LoadInt32(&attempts))
}

func (s *AccountAPITestSuite) TestRateLimitIsRetried() {
	var attempts int32
	s.mux.HandleFunc("/accounts/1/suspend", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	s.NoError(s.client.SuspendAccount(context.Background(), 1, ""))
	s.EqualValues(2, atomic.LoadInt32(&attempts))
}

func (s *AccountAPITestSuite) TestInternalErrorIsNotRetried() {
	var attempts int32
	s.mux.HandleFunc("/accounts/1/cancel", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "upstream ledger error", http.StatusInternalServerError)
	})

	err := s.client.CancelAccount(context.Background(), 1, "CST", true)
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Equal(http.StatusInternalServerError, apiErr.StatusCode)
	s.EqualValues(1, atomic.LoadInt32(&attempts))
}

func TestRetryPolicy(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		status int
		retry  bool
	}{
		{http.StatusOK, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			retry, err := retryPolicy(ctx, &http.Response{StatusCode: tt.status}, nil)
			assert.NoError(t, err)
			assert.Equal(t, tt.retry, retry)
		})
	}

	retry, err := retryPolicy(ctx, nil, errors.New("dial tcp: connection refused"))
	assert.NoError(t, err)
	assert.True(t, retry)

	done, cancel := context.WithCancel(ctx)
	cancel()
	retry, err = retryPolicy(done, nil, errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, retry)
}

func (s *AccountAPITestSuite) TestTimeout() {
	release := make(chan struct{})
	defer close(release)
	s.mux.HandleFunc("/accounts/1/suspend", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	err := s.client.SuspendAccount(context.Background(), 1, "")
	s.ErrorIs(err, ErrTimeout)
}

func (s *AccountAPITestSuite) TestMissingBaseURL() {
	_, err := NewAccountAPIClient(Config{})
	s.ErrorContains(err, "ACCOUNT_API_BASE_URL")
}
