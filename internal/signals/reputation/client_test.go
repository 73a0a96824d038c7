package reputation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"botgate/internal/counter"
	"botgate/internal/platform/config"
	"botgate/pkg/platform/sentinel"
)

type ClientSuite struct {
	suite.Suite
	server *httptest.Server
	calls  atomic.Int32
	status atomic.Int32
	delay  atomic.Int64
	body   string
	store  *counter.MemoryStore
	client *Client
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.calls.Store(0)
	s.status.Store(http.StatusOK)
	s.delay.Store(0)
	s.body = `{"data":{"ipAddress":"203.0.113.9","abuseConfidenceScore":87,"isTor":true}}`
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if r.URL.Path != "/check" || r.Header.Get("Key") != "test-key" || r.URL.Query().Get("ipAddress") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		time.Sleep(time.Duration(s.delay.Load()))
		w.WriteHeader(int(s.status.Load()))
		_, _ = w.Write([]byte(s.body))
	}))
	s.T().Cleanup(s.server.Close)

	s.store = counter.NewMemoryStore()
	s.client = New(config.ReputationConfig{URL: s.server.URL + "/", APIKey: "test-key", Timeout: 200 * time.Millisecond}, s.store)
}

func (s *ClientSuite) TestDisabledClientIsUnavailable() {
	c := New(config.ReputationConfig{}, s.store)
	s.Nil(c)
	_, err := c.Lookup(context.Background(), "203.0.113.9")
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *ClientSuite) TestLookupParsesAndCaches() {
	v, err := s.client.Lookup(context.Background(), "203.0.113.9")
	s.Require().NoError(err)
	s.Equal(87, v.AbuseScore)
	s.True(v.IsTor)

	raw, ok, _ := s.store.Get(context.Background(), "rep:203.0.113.9")
	s.True(ok)
	s.Equal("87|1", raw)

	v, err = s.client.Lookup(context.Background(), "203.0.113.9")
	s.Require().NoError(err)
	s.Equal(87, v.AbuseScore)
	s.Equal(int32(1), s.calls.Load())
}

func (s *ClientSuite) TestConcurrentLookupsShareOneRequest() {
	s.delay.Store(int64(50 * time.Millisecond))
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.client.Lookup(context.Background(), "198.51.100.1")
		}()
	}
	wg.Wait()
	s.LessOrEqual(s.calls.Load(), int32(2))
}

func (s *ClientSuite) TestServerErrorIsUnavailable() {
	s.status.Store(http.StatusBadGateway)
	_, err := s.client.Lookup(context.Background(), "203.0.113.9")
	s.ErrorIs(err, sentinel.ErrUnavailable)

	_, ok, _ := s.store.Get(context.Background(), "rep:203.0.113.9")
	s.False(ok)
}

func (s *ClientSuite) TestTimeoutIsUnavailable() {
	s.delay.Store(int64(time.Second))
	start := time.Now()
	_, err := s.client.Lookup(context.Background(), "203.0.113.9")
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.Less(time.Since(start), 900*time.Millisecond)
}

func (s *ClientSuite) TestBreakerOpensAfterRepeatedFailures() {
	s.status.Store(http.StatusInternalServerError)
	for range breakerFailures {
		_, _ = s.client.Lookup(context.Background(), "203.0.113.9")
	}
	before := s.calls.Load()
	_, err := s.client.Lookup(context.Background(), "203.0.113.9")
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.Equal(before, s.calls.Load())
}

func (s *ClientSuite) TestCancelledCallerStillCompletesLookup() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := s.client.Lookup(ctx, "203.0.113.9")
	s.Require().NoError(err)
	s.Equal(87, v.AbuseScore)
}
