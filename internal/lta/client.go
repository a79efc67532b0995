// Package lta is the client for the bus arrival API proxy. Every payload is
// decoded into typed records and validated before it is returned; anything
// that does not fit is reported as a KindData *FetchError.
package lta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/metrics"
)

const (
	EndpointArrivals = "bus-arrivals"
	EndpointStops    = "bus-stops"
	EndpointNearby   = "nearby-bus-stops"

	maxBodySize = 8 * 1024 * 1024
)

var validate = validator.New()

// Client fetches arrivals, stop listings and nearby stops.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the round tripper under the client's own http.Client.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// WithTimeout sets the absolute per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithAPIKey sends key in the AccountKey header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.With(slog.String("component", "lta_client"))
		}
	}
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(),
		logger:  slog.Default().With(slog.String("component", "lta_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newHTTPClient builds a dedicated client with explicit timeouts instead of
// sharing http.DefaultClient. The transport is cloned from
// http.DefaultTransport to keep proxy, dialer and HTTP/2 defaults.
func newHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}

// BusArrivals returns the predictions for one stop. Empty slot objects are
// normalised to nil.
func (c *Client) BusArrivals(ctx context.Context, stopCode string) (*ArrivalResponse, error) {
	q := url.Values{}
	q.Set("BusStopCode", stopCode)

	var resp ArrivalResponse
	if err := c.getJSON(ctx, EndpointArrivals, q, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Services {
		s := &resp.Services[i]
		if s.NextBus.IsZero() {
			s.NextBus = nil
		}
		if s.NextBus2.IsZero() {
			s.NextBus2 = nil
		}
		if s.NextBus3.IsZero() {
			s.NextBus3 = nil
		}
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, c.fail(EndpointArrivals, &FetchError{Kind: KindData, Endpoint: EndpointArrivals, Err: err})
	}
	c.metrics.ObserveUpstream(EndpointArrivals, "ok")
	return &resp, nil
}

// BusStopsPage returns one page of the stop listing starting at skip.
func (c *Client) BusStopsPage(ctx context.Context, skip int) ([]BusStop, error) {
	q := url.Values{}
	q.Set("$skip", strconv.Itoa(skip))

	var page busStopsPage
	if err := c.getJSON(ctx, EndpointStops, q, &page); err != nil {
		return nil, err
	}
	if err := validate.Struct(&page); err != nil {
		return nil, c.fail(EndpointStops, &FetchError{Kind: KindData, Endpoint: EndpointStops, Err: err})
	}
	c.metrics.ObserveUpstream(EndpointStops, "ok")
	return page.Value, nil
}

// NearbyBusStops returns stops within radiusKm of the point, nearest first.
func (c *Client) NearbyBusStops(ctx context.Context, lat, lon, radiusKm float64) ([]NearbyStop, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radiusKm, 'f', -1, 64))

	var stops []NearbyStop
	if err := c.getJSON(ctx, EndpointNearby, q, &stops); err != nil {
		return nil, err
	}
	for i := range stops {
		if err := validate.Struct(&stops[i]); err != nil {
			return nil, c.fail(EndpointNearby, &FetchError{Kind: KindData, Endpoint: EndpointNearby, Err: err})
		}
	}
	c.metrics.ObserveUpstream(EndpointNearby, "ok")
	return stops, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	u := c.baseURL + "/" + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return c.fail(endpoint, &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("AccountKey", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(endpoint, &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: err})
	}
	defer logging.SafeCloseWithLogging(resp.Body, c.logger, "http_response_body")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(endpoint, &FetchError{Kind: KindServer, Endpoint: endpoint, Status: resp.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return c.fail(endpoint, &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("failed to read response body: %w", err)})
	}
	if int64(len(body)) > maxBodySize {
		return c.fail(endpoint, &FetchError{Kind: KindData, Endpoint: endpoint, Err: fmt.Errorf("response exceeds size limit of %d bytes", maxBodySize)})
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.fail(endpoint, &FetchError{Kind: KindData, Endpoint: endpoint, Err: err})
	}
	return nil
}

func (c *Client) fail(endpoint string, fe *FetchError) error {
	c.metrics.ObserveUpstream(endpoint, fe.Kind.String())
	logging.LogWarn(c.logger, "upstream fetch failed", fe,
		slog.String("endpoint", endpoint),
		slog.String("kind", fe.Kind.String()))
	return fe
}
