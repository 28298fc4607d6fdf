package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"strava-duel/internal/metrics"
)

const (
	defaultAPIBase  = "https://www.strava.com/api/v3"
	defaultTokenURL = "https://www.strava.com/oauth/token"

	// DefaultPageSize is the largest per_page Strava accepts.
	DefaultPageSize = 200
)

// Config holds the Strava OAuth client and API settings.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBase      string
	PageSize     int

	// Location defines the calendar year boundaries. Defaults to time.Local.
	Location *time.Location

	// RateLimit is requests per second across all calls; zero disables limiting.
	RateLimit float64
	RateBurst int

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Client talks to the Strava token and activity endpoints. Every call is
// rate limited and passes through a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	oauth   *oauth2.Config
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[any]
}

// NewClient applies defaults to cfg and returns a ready client.
func NewClient(cfg Config) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		cfg:  cfg,
		http: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		limiter: limiter,
		cb:      newBreaker("strava-api"),
	}
}

// PageSize returns the effective per_page value.
func (c *Client) PageSize() int {
	return c.cfg.PageSize
}

// RefreshToken exchanges a refresh token for a new validated token triple.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.execute(func() (any, error) {
		start := time.Now()
		octx := context.WithValue(ctx, oauth2.HTTPClient, c.http)
		tok, err := c.oauth.TokenSource(octx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		metrics.RecordUpstreamRequest("token", tokenStatus(tok, err), time.Since(start))
		if err != nil {
			return nil, abandoned(ctx, err)
		}
		return tok, nil
	})
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	return grantFromToken(result.(*oauth2.Token))
}

func tokenStatus(tok *oauth2.Token, err error) int {
	if err == nil && tok != nil {
		return http.StatusOK
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}

// get performs an authenticated GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, endpoint, url, accessToken string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.RecordUpstreamRequest(endpoint, 0, time.Since(start))
			return nil, abandoned(ctx, fmt.Errorf("failed to make request: %w", err))
		}
		defer resp.Body.Close()
		metrics.RecordUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, abandoned(ctx, fmt.Errorf("failed to read response: %w", err))
		}

		if resp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, faultMessage(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, fmt.Errorf("%w: %w", errClientStatus, statusErr)
			}
			return nil, statusErr
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
