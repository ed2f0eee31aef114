package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Nominatim defaults.
const (
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent    = "MapeamentoOOH/1.0"
	DefaultTimeout      = 10 * time.Second
)

// Nominatim is a Provider backed by the OpenStreetMap search API.
type Nominatim struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	client    *http.Client
}

// NominatimOption configures a Nominatim provider.
type NominatimOption func(*Nominatim)

func WithBaseURL(u string) NominatimOption {
	return func(n *Nominatim) {
		if u != "" {
			n.baseURL = u
		}
	}
}

func WithUserAgent(ua string) NominatimOption {
	return func(n *Nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

func WithTimeout(d time.Duration) NominatimOption {
	return func(n *Nominatim) {
		if d > 0 {
			n.timeout = d
		}
	}
}

func WithHTTPClient(c *http.Client) NominatimOption {
	return func(n *Nominatim) { n.client = c }
}

// NewNominatim creates a Nominatim provider.
func NewNominatim(opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		baseURL:   DefaultNominatimURL,
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
		client:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type place struct {
	PlaceID     json.Number `json:"place_id"`
	Lat         string      `json:"lat"`
	Lon         string      `json:"lon"`
	Type        string      `json:"type"`
	Importance  float64     `json:"importance"`
	DisplayName string      `json:"display_name"`
}

// Lookup returns the best match for query.
func (n *Nominatim) Lookup(ctx context.Context, query string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrGeocodeTimeout
		}
		return nil, fmt.Errorf("geocode: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrGeocodeTimeout
		}
		return nil, fmt.Errorf("geocode: decode response: %w", err)
	}
	if len(places) == 0 {
		return nil, ErrAddressNotFound
	}

	p := places[0]
	lat, err1 := strconv.ParseFloat(p.Lat, 64)
	lng, err2 := strconv.ParseFloat(p.Lon, 64)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("geocode: bad coordinates %q,%q: %w", p.Lat, p.Lon, ErrAddressNotFound)
	}
	return &Result{
		Lat:              lat,
		Lng:              lng,
		Confidence:       Confidence(p.Importance, p.Type),
		FormattedAddress: p.DisplayName,
		Source:           SourceNominatim,
		PlaceID:          p.PlaceID.String(),
	}, nil
}

// Confidence derives a score in [0.1, 1] from the provider importance and
// the place type.
func Confidence(importance float64, placeType string) float64 {
	c := importance
	t := strings.ToLower(placeType)
	switch {
	case strings.Contains(t, "house") || strings.Contains(t, "building"):
		c = min(1.0, c+0.2)
	case strings.Contains(t, "road") || strings.Contains(t, "street"):
		c = min(0.9, c+0.1)
	case strings.Contains(t, "city") || strings.Contains(t, "town"):
		c = min(0.7, c)
	}
	return max(0.1, min(1.0, c))
}
