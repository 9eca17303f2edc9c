package facility

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/comigor/healthchat-go/internal/config"
	"github.com/comigor/healthchat-go/internal/logger"
)

// Facility is a hospital or clinic near a position.
type Facility struct {
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Specialty string  `json:"speciality,omitempty"`
}

// MapsURL links the facility on Google Maps.
func (f Facility) MapsURL() string {
	return fmt.Sprintf("https://www.google.com/maps/search/?api=1&query=%g,%g", f.Lat, f.Lng)
}

// Client queries OpenStreetMap Overpass mirrors for medical facilities.
type Client struct {
	cfg    config.FacilityConfig
	client *http.Client
}

// DefaultTimeout bounds a single mirror request.
const DefaultTimeout = 8 * time.Second

// NewClient creates a new Overpass client
func NewClient(cfg config.FacilityConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = 3000
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type overpassResponse struct {
	Elements []struct {
		Lat  float64           `json:"lat"`
		Lon  float64           `json:"lon"`
		Tags map[string]string `json:"tags"`
	} `json:"elements"`
}

func (c *Client) query(lat, lng float64) string {
	return fmt.Sprintf(`[out:json][timeout:25];
(
  node["amenity"="hospital"](around:%d,%g,%g);
  node["amenity"="clinic"](around:%d,%g,%g);
);
out body %d;`, c.cfg.RadiusM, lat, lng, c.cfg.RadiusM, lat, lng, c.cfg.Limit*2)
}

// Nearby returns up to the configured limit of facilities around lat/lng.
// Mirrors are tried in order; the first one answering with JSON wins. Each
// mirror gets at most the configured timeout.
func (c *Client) Nearby(ctx context.Context, lat, lng float64) ([]Facility, error) {
	form := url.Values{"data": {c.query(lat, lng)}}.Encode()

	var lastErr error
	for _, server := range c.cfg.Servers {
		out, err := c.fetch(ctx, server, form)
		if err != nil {
			logger.L.Debug("overpass mirror failed", "server", server, "error", err)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(out) > c.cfg.Limit {
			out = out[:c.cfg.Limit]
		}
		return out, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no overpass servers configured")
	}
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context, server, form string) ([]Facility, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, strings.NewReader(form))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var data overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}

	out := make([]Facility, 0, len(data.Elements))
	for _, e := range data.Elements {
		name := e.Tags["name"]
		if name == "" {
			name = "Medical Center"
		}
		out = append(out, Facility{Name: name, Lat: e.Lat, Lng: e.Lon, Specialty: e.Tags["healthcare"]})
	}
	return out, nil
}

// Format renders facilities as the bullet list embedded in the system prompt.
func Format(fs []Facility) string {
	lines := make([]string, len(fs))
	for i, f := range fs {
		lines[i] = fmt.Sprintf("• %s – %s", f.Name, f.MapsURL())
	}
	return strings.Join(lines, "\n")
}
