// Package geocode resolves free-text addresses to coordinates through a
// rate-limited provider with an in-process result cache.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/oohmap/internal/apperr"
)

// Defaults for Service.
const (
	DefaultMinInterval = time.Second
	DefaultBatchSize   = 10
	DefaultCountry     = "Brasil"
)

// Result sources.
const (
	SourceProvided  = "provided"
	SourceNominatim = "nominatim"
)

var (
	ErrGeocodeTimeout  = fmt.Errorf("geocode: request timed out: %w", apperr.ErrUpstream)
	ErrAddressNotFound = fmt.Errorf("geocode: address not found: %w", apperr.ErrNotFound)
	ErrClosed          = errors.New("geocode: service closed")
)

// HTTPError reports a non-success status from the provider.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("geocode: HTTP %d", e.Status) }

func (e *HTTPError) Unwrap() error { return apperr.ErrUpstream }

// Address is the input of a geocode request. Latitude and Longitude hold
// raw column text; when both parse, no lookup is made.
type Address struct {
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zipcode   string `json:"zipcode,omitempty"`
	Country   string `json:"country,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
	Label     string `json:"label,omitempty"`
	Category  string `json:"category,omitempty"`
}

// Result is a resolved coordinate.
type Result struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	Confidence       float64 `json:"confidence"`
	FormattedAddress string  `json:"formatted_address"`
	Source           string  `json:"source"`
	PlaceID          string  `json:"place_id,omitempty"`
}

// Provider performs one lookup against a geocoding backend.
type Provider interface {
	Lookup(ctx context.Context, query string) (*Result, error)
}

// BuildQuery joins the present address parts in a fixed order.
func BuildQuery(a Address, defaultCountry string) string {
	country := a.Country
	if country == "" {
		country = defaultCountry
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Address, a.City, a.State, a.Zipcode, country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func cacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func providedCoordinates(a Address) (*Result, bool) {
	if a.Latitude == "" || a.Longitude == "" {
		return nil, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(a.Latitude), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(a.Longitude), 64)
	if err1 != nil || err2 != nil || math.IsNaN(lat) || math.IsNaN(lng) {
		return nil, false
	}
	return &Result{Lat: lat, Lng: lng, Confidence: 1.0, FormattedAddress: a.Address, Source: SourceProvided}, true
}

type outcome struct {
	res *Result
	err error
}

type request struct {
	ctx   context.Context
	query string
	done  chan outcome
}

// Service geocodes addresses. All provider calls go through one FIFO
// queue drained by a single goroutine, which waits until minInterval has
// passed since the previous call completed.
type Service struct {
	provider    Provider
	minInterval time.Duration
	batchSize   int
	country     string
	logger      *slog.Logger
	observe     func(outcome string)
	depth       func(n int)

	mu    sync.RWMutex
	cache map[string]*Result

	pending atomic.Int64
	queue   chan *request
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Service.
type Option func(*Service)

// WithMinInterval sets the minimum gap between provider calls.
func WithMinInterval(d time.Duration) Option {
	return func(s *Service) { s.minInterval = d }
}

// WithBatchSize sets the chunk size of GeocodeBatch.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithDefaultCountry sets the country appended to queries lacking one.
func WithDefaultCountry(c string) Option {
	return func(s *Service) { s.country = c }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObserver is called once per Geocode with one of "provided",
// "cached", "ok" or "error".
func WithObserver(fn func(outcome string)) Option {
	return func(s *Service) { s.observe = fn }
}

// WithQueueDepth is called with the number of queued requests whenever it
// changes.
func WithQueueDepth(fn func(n int)) Option {
	return func(s *Service) { s.depth = fn }
}

// NewService starts a Service. Call Close to stop its queue.
func NewService(p Provider, opts ...Option) *Service {
	s := &Service{
		provider:    p,
		minInterval: DefaultMinInterval,
		batchSize:   DefaultBatchSize,
		country:     DefaultCountry,
		logger:      slog.Default(),
		cache:       make(map[string]*Result),
		queue:       make(chan *request, 256),
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Close stops the queue. Pending and later calls fail with ErrClosed.
func (s *Service) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
	<-s.stopped
}

func (s *Service) run() {
	defer close(s.stopped)
	var last time.Time
	for {
		select {
		case <-s.stopCh:
			s.drain()
			return
		case req := <-s.queue:
			s.setDepth(s.pending.Add(-1))
			if err := req.ctx.Err(); err != nil {
				req.done <- outcome{err: err}
				continue
			}
			if wait := s.minInterval - time.Since(last); !last.IsZero() && wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-s.stopCh:
					t.Stop()
					req.done <- outcome{err: ErrClosed}
					s.drain()
					return
				}
			}
			res, err := s.provider.Lookup(req.ctx, req.query)
			last = time.Now()
			req.done <- outcome{res: res, err: err}
		}
	}
}

func (s *Service) drain() {
	for {
		select {
		case req := <-s.queue:
			s.setDepth(s.pending.Add(-1))
			req.done <- outcome{err: ErrClosed}
		default:
			return
		}
	}
}

func (s *Service) setDepth(n int64) {
	if s.depth != nil {
		s.depth(int(n))
	}
}

func (s *Service) report(o string) {
	if s.observe != nil {
		s.observe(o)
	}
}

// Geocode resolves one address. Coordinates already present in the input
// are returned as-is; otherwise the query is served from cache or queued.
func (s *Service) Geocode(ctx context.Context, a Address) (*Result, error) {
	if res, ok := providedCoordinates(a); ok {
		s.report("provided")
		return res, nil
	}

	query := BuildQuery(a, s.country)
	key := cacheKey(query)
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		s.report("cached")
		r := *cached
		return &r, nil
	}

	res, err := s.enqueue(ctx, query)
	if err != nil {
		s.report("error")
		s.logger.Debug("geocode: lookup failed", slog.String("query", query), slog.String("error", err.Error()))
		return nil, err
	}
	s.report("ok")
	s.mu.Lock()
	s.cache[key] = res
	s.mu.Unlock()
	r := *res
	return &r, nil
}

func (s *Service) enqueue(ctx context.Context, query string) (*Result, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	req := &request{ctx: ctx, query: query, done: make(chan outcome, 1)}
	s.setDepth(s.pending.Add(1))
	select {
	case s.queue <- req:
	case <-ctx.Done():
		s.setDepth(s.pending.Add(-1))
		return nil, ctx.Err()
	case <-s.stopped:
		s.setDepth(s.pending.Add(-1))
		return nil, ErrClosed
	}
	select {
	case o := <-req.done:
		return o.res, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopped:
		select {
		case o := <-req.done:
			return o.res, o.err
		default:
			return nil, ErrClosed
		}
	}
}

// ClearCache drops every cached result.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]*Result)
	s.mu.Unlock()
}
