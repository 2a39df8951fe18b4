package main // Entry point package

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/restaurant-waitlist/internal/config"
	"github.com/iliyamo/restaurant-waitlist/internal/database"
	"github.com/iliyamo/restaurant-waitlist/internal/handler"
	"github.com/iliyamo/restaurant-waitlist/internal/jobs"
	"github.com/iliyamo/restaurant-waitlist/internal/middleware"
	"github.com/iliyamo/restaurant-waitlist/internal/queue"
	"github.com/iliyamo/restaurant-waitlist/internal/realtime"
	"github.com/iliyamo/restaurant-waitlist/internal/repository"
	"github.com/iliyamo/restaurant-waitlist/internal/router"
	"github.com/iliyamo/restaurant-waitlist/internal/service"
)

// stores is what the selected backend provides.
type stores struct {
	queue       repository.QueueStore
	restaurants repository.Restaurants
	users       repository.Users
	tokens      repository.Tokens
	db          *sql.DB
}

func openStores(cfg config.Config) stores {
	if cfg.StoreBackend == config.StoreMemory {
		log.Printf("store: in-memory backend, data is lost on restart")
		m := repository.NewMemoryStore()
		return stores{queue: m, restaurants: m, users: repository.MemoryUsers{MemoryStore: m}, tokens: repository.MemoryTokens{MemoryStore: m}}
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("store: open mysql: %v", err)
	}
	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("store: migrate: %v", err)
		}
	}
	return stores{
		queue:       repository.NewSQLQueueStore(db),
		restaurants: repository.NewRestaurantDirectory(db),
		users:       repository.NewUserRepo(db),
		tokens:      repository.NewTokenRepo(db),
		db:          db,
	}
}

// ensureAdmin creates the configured ADMIN account on first start.
func ensureAdmin(cfg config.Config, users repository.Users) {
	if cfg.AdminEmail == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, created, err := service.EnsureAdmin(ctx, users, cfg.AdminEmail, cfg.AdminPassword, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("admin: %v", err)
	}
	if created {
		log.Printf("admin: created %s (id %d)", cfg.AdminEmail, id)
	}
}

func main() {
	cfg := config.Load()
	st := openStores(cfg)
	ensureAdmin(cfg, st.users)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it there is no cache, no rate limit,
	// no cross-instance fan-out and no scheduled jobs.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis: unavailable, running single-instance without cache, rate limit or jobs")
	}

	hub := realtime.NewHub(realtime.NewRegistry(), cfg.SendTimeout)
	var pub service.Publisher = hub
	if rdb != nil {
		bridge := realtime.NewRedisBridge(rdb, hub)
		pub = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("realtime-bridge: %v", err)
			}
		}()
	}

	var events service.EventLogger = service.StdEventLogger{}
	if cfg.AMQPURL != "" {
		amqpLog := service.NewAMQPEventLogger(cfg.AMQPURL)
		defer func() { _ = amqpLog.Close() }()
		events = amqpLog
		if cfg.EventConsumer {
			go func() {
				if err := queue.StartEventConsumer(cfg.AMQPURL, cfg.EventLogDir); err != nil {
					log.Printf("waitlist-consumer: %v", err)
				}
			}()
		}
	}

	coord := service.NewCoordinator(st.queue, pub, events, service.Options{
		LockTimeout:    cfg.LockTimeout,
		TxTimeout:      cfg.TxTimeout,
		PublishTimeout: cfg.PublishTimeout,
		MaxPartySize:   cfg.MaxPartySize,
	})

	var runner *jobs.Runner
	if rdb != nil && cfg.JobsEnabled {
		r, err := jobs.Start(config.AsynqRedisOpt(config.RedisOptions()), &jobs.Handlers{Purger: coord, Tokens: st.tokens}, jobs.Config{
			PurgeCron:   cfg.PurgeCron,
			PurgeMaxAge: cfg.PurgeMaxAge,
			TokenCron:   cfg.TokenCron,
		})
		if err != nil {
			log.Printf("jobs: disabled: %v", err)
		} else {
			runner = r
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	var pinger handler.Pinger
	if st.db != nil {
		pinger = st.db
	}
	router.RegisterRoutes(e, handler.Ready(pinger))

	restaurants := handler.NewRestaurantHandler(st.restaurants)
	waitlist := handler.NewWaitlistHandler(coord)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, st.users, st.tokens), cfg.JWTSecret)

	deps := router.PublicDeps{
		Restaurants: restaurants,
		Waitlist:    waitlist,
		Stream:      handler.NewStreamHandler(hub, coord),
	}
	if rdb != nil {
		deps.Cache = middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
		deps.Limit = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	}
	router.RegisterPublic(e, deps)
	router.RegisterOwner(e, restaurants, waitlist, cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.StoreBackend)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if runner != nil {
		runner.Shutdown()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if st.db != nil {
		_ = st.db.Close()
	}
}
