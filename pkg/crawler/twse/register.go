package twse

import (
	"net/http"

	"stockbot/pkg/crawler"
)

func init() {
	crawler.RegisterFetcher("twse", func(_ string, cfg *crawler.FetcherConfig) (crawler.Fetcher, error) {
		opts := []Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, WithUserAgent(cfg.UserAgent))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		if cfg.MaxRetries > 0 {
			opts = append(opts, WithMaxRetries(cfg.MaxRetries))
		}
		if cfg.PauseRaw != "" {
			opts = append(opts, WithPause(cfg.Pause))
		}
		return NewClient(opts...), nil
	})
}
