// Package twse fetches daily market reports from the Taiwan Stock Exchange.
//
// The exchange publishes the whole-market daily report as a Big5-encoded CSV
// with several sub-tables in one file; only the per-security quote table is
// parsed here. The exchange throttles aggressive clients, so the fetcher
// pauses between successful requests.
package twse

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"stockbot/pkg/crawler"
)

const (
	defaultBaseURL          = "https://www.twse.com.tw"
	defaultHTTPTimeout      = 30 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 500 * time.Millisecond
	defaultPause            = 15 * time.Second
	defaultUserAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_6)" +
		" AppleWebKit/537.36 (KHTML, like Gecko) Chrome/86.0.4240.183 Safari/537.36"

	dailyReportPath = "/exchangeReport/MI_INDEX"
	codeQueryPath   = "/zh/api/codeQuery"
)

var (
	// ErrNoData indicates the exchange published no report for the date,
	// typically because the market was closed.
	ErrNoData = errors.New("twse: no data for date")
	// ErrInstrumentNotFound indicates the code query returned no exact match.
	ErrInstrumentNotFound = errors.New("twse: instrument not found")
)

// securityCode matches the code column of the per-security quote table and
// nothing else in the report (summary sub-tables label rows with prose).
var securityCode = regexp.MustCompile(`^[0-9][0-9A-Z]{3,5}$`)

// Client fetches TWSE exchange reports.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	userAgent  string
	pause      time.Duration

	throttleMu sync.Mutex
	lastDone   time.Time
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the exchange origin.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithPause sets the wait between successful requests. Zero disables it.
func WithPause(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.pause = d
		}
	}
}

// NewClient constructs a TWSE fetcher.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
		userAgent:  defaultUserAgent,
		pause:      defaultPause,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DailySummaries fetches the whole-market report for one trading date and
// returns the per-security quote rows.
func (c *Client) DailySummaries(ctx context.Context, date time.Time) ([]crawler.DailyRow, error) {
	query := url.Values{
		"response": {"csv"},
		"date":     {date.Format("20060102")},
		"type":     {"ALLBUT0999"},
	}
	body, err := c.get(ctx, dailyReportPath, query)
	if err != nil {
		return nil, err
	}
	rows, err := parseDailyReport(body)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, date.Format("2006-01-02"))
	}
	return rows, nil
}

// InstrumentName resolves a security code to its listed name via the
// exchange code-query endpoint.
func (c *Client) InstrumentName(ctx context.Context, code string) (string, error) {
	query := url.Values{
		"query": {code},
		"_":     {strconv.FormatInt(time.Now().UnixMilli(), 10)},
	}
	body, err := c.get(ctx, codeQueryPath, query)
	if err != nil {
		return "", err
	}

	var payload struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("twse: decode code query: %w", err)
	}
	for _, suggestion := range payload.Suggestions {
		// the trailing "show more" entry has no tab and is skipped
		parts := strings.SplitN(suggestion, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == code {
			return parts[1], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInstrumentNotFound, code)
}

// get performs a throttled GET with bounded retry and doubling backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}

	target := c.baseURL + path + "?" + query.Encode()
	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("twse: build request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				lastErr = fmt.Errorf("twse: read response: %w", readErr)
			} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = fmt.Errorf("twse: http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			} else {
				c.markDone()
				return body, nil
			}
		}

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	return nil, lastErr
}

// throttle blocks until the configured pause since the previous successful
// request has elapsed.
func (c *Client) throttle(ctx context.Context) error {
	if c.pause <= 0 {
		return nil
	}
	c.throttleMu.Lock()
	last := c.lastDone
	c.throttleMu.Unlock()
	if last.IsZero() {
		return nil
	}
	wait := c.pause - time.Since(last)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (c *Client) markDone() {
	c.throttleMu.Lock()
	c.lastDone = time.Now()
	c.throttleMu.Unlock()
}

// parseDailyReport decodes the Big5 report and extracts the per-security
// quote table. Sub-table headers and footnotes are skipped; a row qualifies
// when its first field is a security code and it carries the full column set.
func parseDailyReport(raw []byte) ([]crawler.DailyRow, error) {
	decoded, _, err := transform.Bytes(traditionalchinese.Big5.NewDecoder(), raw)
	if err != nil {
		return nil, fmt.Errorf("twse: decode big5: %w", err)
	}

	reader := csv.NewReader(strings.NewReader(string(decoded)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows []crawler.DailyRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// the report mixes prose lines into the CSV; skip them
			continue
		}
		if len(record) < 16 {
			continue
		}
		code := strings.TrimSpace(strings.TrimPrefix(record[0], "="))
		if !securityCode.MatchString(code) {
			continue
		}
		row := crawler.DailyRow{
			Code:          code,
			Name:          strings.TrimSpace(record[1]),
			Volume:        parseInt(record[2]),
			Transactions:  parseInt(record[3]),
			Value:         parseInt(record[4]),
			Open:          parseFloat(record[5]),
			High:          parseFloat(record[6]),
			Low:           parseFloat(record[7]),
			Close:         parseFloat(record[8]),
			BestBidPrice:  parseFloat(record[11]),
			BestBidVolume: parseInt(record[12]),
			BestAskPrice:  parseFloat(record[13]),
			BestAskVolume: parseInt(record[14]),
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseFloat reads an exchange-formatted number. The report prints "--" for
// prices when no trade happened; those come back as zero.
func parseFloat(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "--" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "--" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
