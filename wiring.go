package main

import (
	"context"
	"fmt"

	apppricing "github.com/Zhima-Mochi/minishop-checkout/internal/application/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/redisstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type catalogStore interface {
	apppricing.Catalog
	memory.CatalogWriter
}

type stockStore interface {
	dominventory.Stock
	memory.StockWriter
}

type cartStore interface {
	apppricing.CartProvider
	memory.CartWriter
}

// stores holds the selected backend for every repository the core depends on.
type stores struct {
	catalog      catalogStore
	stock        stockStore
	carts        cartStore
	reservations dominventory.ReservationRepository
	orders       domorder.Repository
	sessions     dompay.SessionRepository

	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *stores, err error) {
	st := &stores{
		catalog:      memory.NewCatalog(),
		stock:        memory.NewStockStore(),
		carts:        memory.NewCartStore(),
		reservations: memory.NewReservationRepository(),
		orders:       memory.NewOrderRepository(),
		sessions:     memory.NewSessionRepository(),
	}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.StoreBackend == config.BackendPostgres || cfg.SessionBackend == config.BackendPostgres {
		changed, err := postgres.Migrate(cfg.DatabaseURL, cfg.MigrationsPath)
		if err != nil {
			return nil, err
		}
		logger.Info("postgres_migrated", zap.Bool("changed", changed), zap.String("path", cfg.MigrationsPath))

		pool, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
	}
	if cfg.StoreBackend == config.BackendPostgres {
		st.catalog = postgres.NewCatalog(pool)
		st.stock = postgres.NewStockStore(pool)
		st.reservations = postgres.NewReservationRepository(pool)
		st.orders = postgres.NewOrderRepository(pool)
	}

	var client *redis.Client
	if cfg.SessionBackend == config.BackendRedis || cfg.CartBackend == config.BackendRedis {
		client, err = redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = client.Close() })
		logger.Info("redis_connected", zap.String("addr", cfg.Redis.Addr))
	}

	switch cfg.SessionBackend {
	case config.BackendRedis:
		st.sessions = redisstore.NewSessionStore(client)
	case config.BackendPostgres:
		st.sessions = postgres.NewSessionRepository(pool)
	}
	if cfg.CartBackend == config.BackendRedis {
		st.carts = redisstore.NewCartStore(client)
	}
	return st, nil
}

func seedStores(ctx context.Context, path string, st *stores) error {
	seed, err := memory.LoadSeed(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, st.catalog, st.stock, st.carts); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	return nil
}
