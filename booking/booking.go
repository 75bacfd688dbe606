// Package booking implements the client for the BookMyShow mobile and PWA
// APIs: show listings by venue and date, movie/venue lookups by code, and
// venue listings by region.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/match"
)

const (
	defaultBaseURL = "https://in.bookmyshow.com"
	appCode        = "MOBAND2"
	bmsIDPrefix    = "1.58091598."
	apiToken       = "67x1xa33b4x422b361ba"
	androidUA      = "Dalvik/2.1.0 (Linux; U; Android 10; Google Pixel 3a Build/QQ1D.200105.002)"

	// Region header sent on synopsis lookups; the endpoint requires one but
	// the answer does not depend on it.
	lookupRegion = "BANG"
)

// NotFoundError indicates the booking service answered and reported that the
// given code does not exist. Distinct from transport or protocol failures,
// which come back as ordinary wrapped errors.
type NotFoundError struct {
	Kind string // "movie" or "venue"
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s code %q not found", e.Kind, e.Code)
}

// IsNotFound reports whether an error is a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// Region is a bookable region (city/metro area).
type Region struct {
	Name string
	Code string
}

// Venue is a cinema within a region.
type Venue struct {
	Name string
	Code string
}

// Client calls the booking service. All methods retry transient failures
// with backoff; not-found answers are returned immediately.
type Client struct {
	httpClient     *http.Client
	logger         *slog.Logger
	baseURL        string
	appVersion     string
	appVersionCode string
}

// New creates a booking client. appVersion is the Play Store app version the
// mobile API expects (e.g. "10.4.2"); the version code is derived from it.
func New(httpClient *http.Client, logger *slog.Logger, appVersion string) *Client {
	return &Client{
		httpClient:     httpClient,
		logger:         logger,
		baseURL:        defaultBaseURL,
		appVersion:     appVersion,
		appVersionCode: strings.ReplaceAll(appVersion, ".", "") + "0",
	}
}

type showtimesResponse struct {
	ShowDetails []struct {
		Event []struct {
			EventTitle string `json:"EventTitle"`
		} `json:"Event"`
	} `json:"ShowDetails"`
}

// ListTitles returns the show titles currently offered at a venue on a date.
// An empty slice means the venue has no listings yet for that date.
func (c *Client) ListTitles(ctx context.Context, venueCode string, date time.Time) ([]string, error) {
	bmsID := newBMSID()
	query := url.Values{
		"appCode":    {appCode},
		"appVersion": {c.appVersionCode},
		"venueCode":  {venueCode},
		"bmsId":      {bmsID},
		"token":      {apiToken},
		"dateCode":   {match.DateCode(date)},
	}
	endpoint := c.baseURL + "/api/v2/mobile/showtimes/byvenue?" + query.Encode()

	var resp showtimesResponse
	if err := c.getJSON(ctx, endpoint, c.mobileHeaders(bmsID, ""), &resp); err != nil {
		return nil, fmt.Errorf("list titles at %s: %w", venueCode, err)
	}

	if len(resp.ShowDetails) == 0 {
		c.logger.Warn("no show details for venue", "venue_code", venueCode, "date", match.DateCode(date))
		return nil, nil
	}

	titles := make([]string, 0, len(resp.ShowDetails[0].Event))
	for _, event := range resp.ShowDetails[0].Event {
		titles = append(titles, event.EventTitle)
	}
	return titles, nil
}

type synopsisResponse struct {
	Meta struct {
		Event struct {
			EventName string `json:"eventName"`
		} `json:"event"`
	} `json:"meta"`
}

// ResolveMovieName returns the display name for a movie code, or a
// NotFoundError if the code does not exist.
func (c *Client) ResolveMovieName(ctx context.Context, movieCode string) (string, error) {
	bmsID := newBMSID()
	endpoint := c.baseURL + "/api/movies/v1/synopsis/init?eventcode=" + url.QueryEscape(movieCode) + "&channel=mobile"

	var resp synopsisResponse
	err := c.getJSON(ctx, endpoint, c.mobileHeaders(bmsID, lookupRegion), &resp)
	if err != nil {
		if isStatusClientError(err) {
			return "", &NotFoundError{Kind: "movie", Code: movieCode}
		}
		return "", fmt.Errorf("resolve movie %s: %w", movieCode, err)
	}
	if resp.Meta.Event.EventName == "" {
		return "", &NotFoundError{Kind: "movie", Code: movieCode}
	}
	return resp.Meta.Event.EventName, nil
}

type showcaseResponse struct {
	Data struct {
		VenueName string `json:"venueName"`
	} `json:"data"`
}

// ResolveVenueName returns the display name for a venue code, or a
// NotFoundError if the code does not exist.
func (c *Client) ResolveVenueName(ctx context.Context, venueCode string) (string, error) {
	bmsID := newBMSID()
	endpoint := c.baseURL + "/api/movies/v1/cinema/showcase?vc=" + url.QueryEscape(venueCode)

	var resp showcaseResponse
	err := c.getJSON(ctx, endpoint, c.mobileHeaders(bmsID, ""), &resp)
	if err != nil {
		if isStatusClientError(err) {
			return "", &NotFoundError{Kind: "venue", Code: venueCode}
		}
		return "", fmt.Errorf("resolve venue %s: %w", venueCode, err)
	}
	if resp.Data.VenueName == "" {
		return "", &NotFoundError{Kind: "venue", Code: venueCode}
	}
	return resp.Data.VenueName, nil
}

type venuesResponse struct {
	BookMyShow struct {
		ArrVenue []struct {
			VenueName string `json:"VenueName"`
			VenueCode string `json:"VenueCode"`
		} `json:"arrVenue"`
	} `json:"BookMyShow"`
}

// ListVenues returns the cinemas in a region.
func (c *Client) ListVenues(ctx context.Context, regionCode string) ([]Venue, error) {
	endpoint := c.baseURL + "/pwa/api/de/venues?regionCode=" + url.QueryEscape(regionCode) + "&eventType=MT"

	var resp venuesResponse
	if err := c.getJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("list venues in %s: %w", regionCode, err)
	}

	venues := make([]Venue, 0, len(resp.BookMyShow.ArrVenue))
	for _, venue := range resp.BookMyShow.ArrVenue {
		venues = append(venues, Venue{Name: venue.VenueName, Code: venue.VenueCode})
	}
	return venues, nil
}

// ListRegions returns the supported regions. The full region list upstream
// is over 1500 entries; only the top metros are offered.
func (c *Client) ListRegions() []Region {
	return []Region{
		{Name: "Mumbai", Code: "MUMBAI"},
		{Name: "National Capital Region (NCR)", Code: "NCR"},
		{Name: "Bengaluru", Code: "BANG"},
		{Name: "Hyderabad", Code: "HYD"},
		{Name: "Ahmedabad", Code: "AHD"},
		{Name: "Chandigarh", Code: "CHD"},
		{Name: "Pune", Code: "PUNE"},
		{Name: "Chennai", Code: "CHEN"},
		{Name: "Kolkata", Code: "KOLK"},
		{Name: "Kochi", Code: "KOCH"},
	}
}

// statusError is a non-2xx response. 4xx statuses are not retried; the
// resolve methods translate them into NotFoundError.
type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.url)
}

func isStatusClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status >= 400 && se.status < 500
}

// getJSON performs a GET with retries and decodes the JSON response into v.
func (c *Client) getJSON(ctx context.Context, endpoint string, headers http.Header, v any) error {
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			for key, values := range headers {
				for _, value := range values {
					req.Header.Add(key, value)
				}
			}

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("HTTP request failed, will retry",
					"url", endpoint,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("HTTP request completed",
				"url", endpoint,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(&statusError{status: resp.StatusCode, url: endpoint})
			}
			if resp.StatusCode != http.StatusOK {
				return &statusError{status: resp.StatusCode, url: endpoint}
			}

			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		},
		retry.Attempts(4),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying booking API call after error", "attempt", n, "url", endpoint, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}
	return nil
}

// mobileHeaders builds the Android app headers the mobile API checks.
// regionCode is optional; only synopsis lookups need it.
func (c *Client) mobileHeaders(bmsID, regionCode string) http.Header {
	headers := http.Header{}
	headers.Set("User-Agent", androidUA)
	headers.Set("x-bms-id", bmsID)
	headers.Set("x-platform", "AND")
	headers.Set("x-platform-code", "ANDROID")
	headers.Set("x-app-code", appCode)
	headers.Set("x-device-cake", "Android-Google Pixel 3a")
	headers.Set("x-screen-height", "2094")
	headers.Set("x-screen-width", "1080")
	headers.Set("x-screen-density", "2.625")
	headers.Set("x-app-version", c.appVersion)
	headers.Set("x-app-version-code", c.appVersionCode)
	headers.Set("x-network", "Android | WIFI")
	headers.Set("x-latitude", "0.0")
	headers.Set("x-longitude", "0.0")
	if regionCode != "" {
		headers.Set("x-region-code", regionCode)
		headers.Set("x-subregion-code", regionCode)
	}
	return headers
}

// newBMSID derives a fresh client id: fixed prefix plus a microsecond
// timestamp, matching what the mobile app sends.
func newBMSID() string {
	return bmsIDPrefix + strconv.FormatInt(time.Now().UnixMicro(), 10)
}
