package svc

import (
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	"stockbot/internal/config"
	"stockbot/internal/store"
	"stockbot/pkg/crawler"
	_ "stockbot/pkg/crawler/twse" // register the twse fetcher
)

type ServiceContext struct {
	Config config.Config

	ExchangeConfig  *crawler.Config
	Fetchers        map[string]crawler.Fetcher
	DefaultExchange string
	DefaultFetcher  crawler.Fetcher

	DBConn sqlx.SqlConn
	Cache  cache.Cache
	Store  *store.Store
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	// Build exchange fetchers when the registry section is configured.
	if c.Exchanges.Value != nil {
		exchangeCfg := c.Exchanges.Value
		fetchers, err := exchangeCfg.BuildFetchers()
		if err != nil {
			log.Fatalf("failed to build exchange fetchers: %v", err)
		}
		svc.ExchangeConfig = exchangeCfg
		svc.Fetchers = fetchers
		svc.DefaultExchange = exchangeCfg.Default
		if exchangeCfg.Default != "" {
			svc.DefaultFetcher = fetchers[exchangeCfg.Default]
		}
	}

	// The store only comes up with a DSN; the cache additionally needs redis.
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn

		if c.Redis.Host != "" {
			cacheConf := cache.CacheConf{{RedisConf: c.Redis, Weight: 100}}
			svc.Cache = cache.New(cacheConf, syncx.NewSingleFlight(), cache.NewStat("stockbot"), sqlx.ErrNotFound)
		}

		svc.Store = store.New(conn, svc.Cache, svc.Fetchers, store.TTLs{
			Short:  c.TTL.Short,
			Medium: c.TTL.Medium,
			Long:   c.TTL.Long,
		})
	}
	return svc
}
