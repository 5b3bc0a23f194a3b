package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fortio.org/safecast"
	"github.com/emersion/go-webdav"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/security"
)

// maxRulesetSize bounds downloaded rulesets.
const maxRulesetSize = 4 << 20

// BreakerObserver is told about circuit breaker state changes.
type BreakerObserver interface {
	RecordCircuitBreakerChange(name, state string)
}

// ErrRemoteUnavailable is returned while the remote breaker is open.
var ErrRemoteUnavailable = errors.New("remote ruleset source unavailable")

// HTTPConfig configures the remote HTTP strategy.
type HTTPConfig struct {
	URL      string
	Checksum string

	// OAuth client credentials. All three must be set to enable auth.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string

	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration

	// RequestTimeout bounds one fetch.
	RequestTimeout time.Duration

	// HTTPClient overrides the base transport client.
	HTTPClient *http.Client
}

// HTTPStrategy downloads a ruleset over HTTP behind a circuit breaker.
type HTTPStrategy struct {
	config  HTTPConfig
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// NewHTTPStrategy creates the remote strategy. observer may be nil.
func NewHTTPStrategy(config HTTPConfig, observer BreakerObserver, logger *slog.Logger) *HTTPStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = time.Minute
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}

	threshold, err := safecast.Conv[uint32](config.FailureThreshold)
	if err != nil || threshold == 0 {
		threshold = 3
	}

	s := &HTTPStrategy{config: config, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "module.remote",
		MaxRequests: 1,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if observer != nil {
				observer.RecordCircuitBreakerChange(name, to.String())
			}
		},
	})
	return s
}

// Name implements Strategy.
func (s *HTTPStrategy) Name() string { return "remote" }

// State returns the breaker state.
func (s *HTTPStrategy) State() string {
	return s.breaker.State().String()
}

// Load implements Strategy.
func (s *HTTPStrategy) Load(ctx context.Context) (*Module, error) {
	data, err := s.breaker.Execute(func() ([]byte, error) {
		return s.fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	if s.config.Checksum != "" {
		if err := security.VerifyChecksum(data, s.config.Checksum); err != nil {
			return nil, err
		}
	}
	return LoadModule(data, s.config.URL)
}

func (s *HTTPStrategy) fetch(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/yaml")

	resp, err := s.client(ctx).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ruleset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ruleset: unexpected status %s", resp.Status)
	}
	return readLimited(resp.Body)
}

func (s *HTTPStrategy) client(ctx context.Context) *http.Client {
	base := s.config.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: s.config.RequestTimeout}
	}
	if s.config.OAuthClientID == "" || s.config.OAuthClientSecret == "" || s.config.OAuthTokenURL == "" {
		return base
	}

	cc := &clientcredentials.Config{
		ClientID:     s.config.OAuthClientID,
		ClientSecret: s.config.OAuthClientSecret,
		TokenURL:     s.config.OAuthTokenURL,
	}
	return cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
}

// WebDAVConfig configures the WebDAV strategy.
type WebDAVConfig struct {
	Endpoint string
	Path     string
	Username string
	Password string
	Checksum string

	HTTPClient *http.Client
}

// WebDAVStrategy reads a ruleset from a WebDAV share.
type WebDAVStrategy struct {
	config WebDAVConfig
}

// NewWebDAVStrategy creates the WebDAV strategy.
func NewWebDAVStrategy(config WebDAVConfig) *WebDAVStrategy {
	if config.Path == "" {
		config.Path = "/prosecheck/ruleset.yaml"
	}
	return &WebDAVStrategy{config: config}
}

// Name implements Strategy.
func (s *WebDAVStrategy) Name() string { return "webdav" }

// Load implements Strategy.
func (s *WebDAVStrategy) Load(ctx context.Context) (*Module, error) {
	httpClient := s.config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	var hc webdav.HTTPClient = httpClient
	if s.config.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, s.config.Username, s.config.Password)
	}
	client, err := webdav.NewClient(hc, s.config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("create webdav client: %w", err)
	}

	rc, err := client.Open(ctx, s.config.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.config.Path, err)
	}
	defer rc.Close()

	data, err := readLimited(rc)
	if err != nil {
		return nil, err
	}
	if s.config.Checksum != "" {
		if err := security.VerifyChecksum(data, s.config.Checksum); err != nil {
			return nil, err
		}
	}
	return LoadModule(data, "webdav:"+s.config.Endpoint+s.config.Path)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxRulesetSize+1))
	if err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}
	if len(data) > maxRulesetSize {
		return nil, fmt.Errorf("ruleset exceeds %d bytes", maxRulesetSize)
	}
	return data, nil
}
