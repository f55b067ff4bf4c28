package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

// Client fetches METAR reports
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new METAR client
func NewClient(config Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.RequestTimeoutSeconds) * time.Second,
		},
		logger: log.Named("weather-client"),
	}
}

// FetchMETAR returns the latest METAR for the station
func (c *Client) FetchMETAR(ctx context.Context, station string) (*METARResponse, error) {
	u := fmt.Sprintf("%s/metar?ids=%s&format=json", c.config.APIBaseURL, url.QueryEscape(station))

	var result []METARResponse // API returns an array
	if err := c.fetchWithRetry(ctx, u, station, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no METAR data found for %s", station)
	}
	return &result[0], nil
}

// Observe fetches the station METAR and derives the ISA deviation from it
func (c *Client) Observe(ctx context.Context) (*Observation, error) {
	metar, err := c.FetchMETAR(ctx, c.config.Station)
	if err != nil {
		return nil, err
	}

	temp, ok := metar.Temperature()
	if !ok {
		return nil, fmt.Errorf("METAR for %s carries no temperature: %q", c.config.Station, metar.RawOb)
	}
	elev := c.config.ElevationM
	if metar.Elevation != nil {
		elev = *metar.Elevation
	}

	obs := &Observation{
		Station:      c.config.Station,
		TemperatureC: temp,
		ElevationM:   elev,
		ISADeviation: ISADeviation(temp, elev),
		Raw:          metar.RawOb,
		FetchedAt:    time.Now().UTC(),
	}
	c.logger.Info("METAR observed",
		logger.String("station", obs.Station),
		logger.Float64("temperature_c", obs.TemperatureC),
		logger.Float64("isa_deviation", obs.ISADeviation))
	return obs, nil
}

// fetchWithRetry performs the request with exponential backoff between attempts
func (c *Client) fetchWithRetry(ctx context.Context, u, station string, target any) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			c.logger.Info("Retrying METAR fetch",
				logger.String("station", station),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.fetch(ctx, u, target)
		if lastErr == nil {
			if attempt > 0 {
				c.logger.Info("Fetched METAR after retries",
					logger.String("station", station),
					logger.Int("attempts_needed", attempt+1))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("METAR request failed, may retry",
			logger.String("station", station),
			logger.Error(lastErr),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.config.MaxRetries+1))
	}

	c.logger.Error("All attempts to fetch METAR failed",
		logger.String("station", station),
		logger.Error(lastErr),
		logger.Int("max_attempts", c.config.MaxRetries+1))
	return lastErr
}

func (c *Client) fetch(ctx context.Context, u string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request to weather API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("error decoding weather data: %w", err)
	}
	return nil
}
