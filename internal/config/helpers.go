package config

import "stockbot/pkg/crawler"

// MustLoadExchanges loads etc/exchanges.yaml from the project root and panics
// on error. It isolates the exchange registry so tests and one-off tools do
// not need the full application config.
func MustLoadExchanges() *crawler.Config {
	return crawler.MustLoad()
}
