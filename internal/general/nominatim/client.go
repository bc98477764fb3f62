package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"fleetwise/internal/general/logger"

	"github.com/cenkalti/backoff/v4"
)

// Client resolves coordinates to street addresses against a Nominatim
// endpoint. Lookups are debounced per vehicle: a moving vehicle reschedules
// its pending lookup on every position update, so only the position it
// settles on actually hits the geocoder. Nominatim's usage policy is one
// request per second; the debounce plus per-vehicle coalescing keeps a whole
// fleet within that.
type Client struct {
	baseURL  string
	debounce time.Duration
	http     *http.Client
	log      *logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// New constructs a geocoder client. debounce <= 0 disables debouncing and
// fires lookups immediately.
func New(baseURL string, debounce time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		debounce: debounce,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule queues a reverse lookup for a vehicle's position. If a lookup is
// already pending for the vehicle it is rescheduled with the new coordinates.
// deliver runs on the timer goroutine only when the lookup succeeds; a failed
// lookup is logged and dropped, leaving the caller's coordinate fallback in
// place.
func (c *Client) Schedule(ctx context.Context, vehicleID string, lat, lng float64, deliver func(address string)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if t, ok := c.timers[vehicleID]; ok {
		t.Stop()
	}

	fire := func() {
		c.mu.Lock()
		delete(c.timers, vehicleID)
		c.mu.Unlock()

		addr, err := c.Reverse(ctx, lat, lng)
		if err != nil {
			c.log.Error(ctx, "geocode_failed", "Reverse geocode lookup failed", err, map[string]any{
				"vehicle_id": vehicleID,
			})
			return
		}
		deliver(addr)
	}

	if c.debounce <= 0 {
		c.mu.Unlock()
		fire()
		return
	}
	c.timers[vehicleID] = time.AfterFunc(c.debounce, fire)
	c.mu.Unlock()
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// Reverse performs one reverse lookup immediately, retrying transient
// failures a couple of times before giving up.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', 6, 64))
	endpoint := c.baseURL + "/reverse?" + q.Encode()

	var addr string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "fleetwise-tracking-service")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("nominatim status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}

		var body reverseResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("decode nominatim response: %w", err))
		}
		addr = body.DisplayName
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	if addr == "" {
		return "", errors.New("nominatim: empty display_name")
	}
	return addr, nil
}

// Close cancels all pending lookups. The client accepts no new work afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}
