package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/juju/clock"

	"pricetracker/internal/api"
	"pricetracker/internal/cache"
	"pricetracker/internal/config"
	"pricetracker/internal/database"
	"pricetracker/internal/metrics"
	"pricetracker/internal/notify"
	"pricetracker/internal/products"
	"pricetracker/internal/queue"
	"pricetracker/internal/realtime"
	"pricetracker/internal/scraper"
	"pricetracker/internal/watcher"
)

func main() {
	_ = godotenv.Load() // load .env if present; not fatal if missing
	cfg := config.Load()

	// graceful shutdown coordination
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("database: %v", err)
	}

	repo := products.NewRepository(pool)

	if cfg.BackfillImages {
		n, err := repo.BackfillChangeImages(ctx)
		if err != nil {
			log.Printf("backfill change images: %v", err)
		} else {
			log.Printf("backfill change images: %d rows updated", n)
		}
	}

	// change-record fan-out: websocket hub always, kafka and redis when configured
	hub := realtime.NewHub()
	publishers := []watcher.Publisher{hub}

	var kafkaPub *queue.ChangePublisher
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		kafkaPub = queue.NewChangePublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publishers = append(publishers, kafkaPub)
		log.Printf("kafka publishing enabled, topic %q", cfg.KafkaTopic)
	}

	var changeCache *cache.RecentChanges
	if cfg.RedisAddr != "" {
		changeCache = cache.NewRecentChanges(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		publishers = append(publishers, changeCache)
		log.Printf("redis listing cache enabled at %s", cfg.RedisAddr)
	}

	var notifier notify.Notifier = notify.NewLogNotifier()
	if cfg.SMTPHost != "" && cfg.AlarmEmailTo != "" {
		notifier = notify.NewEmailNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.AlarmEmailTo)
	}

	var fetcher scraper.Fetcher
	switch cfg.ScraperMode {
	case "http":
		fetcher = scraper.NewHTTPFetcher(scraper.HTTPFetcherOptions{
			UserAgent: cfg.ScraperUserAgent,
			Timeout:   time.Duration(cfg.FetchTimeoutSecs) * time.Second,
		})
	default:
		fetcher = scraper.NewMockFetcher(0)
		log.Println("scraper: mock mode (set SCRAPER_MODE=http for real fetches)")
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pacer := watcher.NewPacer(cfg.TargetRPS,
		time.Duration(cfg.PaceFloorMs)*time.Millisecond,
		time.Duration(cfg.JitterMinMs)*time.Millisecond,
		time.Duration(cfg.JitterMaxMs)*time.Millisecond,
		clock.WallClock, rng)

	emitter := watcher.NewAuditEmitter(repo, publishers...)
	w := watcher.New(repo, fetcher, notifier, emitter, pacer, clock.WallClock, rng, watcher.Config{
		Interval:    time.Duration(cfg.TickSeconds) * time.Second,
		CooldownMin: time.Duration(cfg.CooldownMinMinutes) * time.Minute,
		CooldownMax: time.Duration(cfg.CooldownMaxMinutes) * time.Minute,
	})

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		// watcher runs until ctx is cancelled
		w.Run(ctx)
	}()

	h := api.NewHandler(repo, changeCache, hub, rand.New(rand.NewSource(time.Now().UnixNano())))

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	r := gin.Default()

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/products", h.ListProducts)
		apiGroup.POST("/products", h.CreateProduct)
		apiGroup.GET("/products/:id", h.GetProduct)
		apiGroup.GET("/products/:id/history", h.GetPriceHistory)
		apiGroup.PATCH("/products/:id/alarm", h.UpdateAlarm)
		apiGroup.DELETE("/products/:id", h.DeleteProduct)
		apiGroup.GET("/changes", h.ListChanges)
	}
	r.GET("/ws/changes", h.ChangesFeed)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		log.Printf("Server started on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server ListenAndServe: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received")

	// stop accepting new requests, allow 15s to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server Shutdown: %v", err)
	}

	// wait watcher to finish (it reacts to ctx)
	wg.Wait()

	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			log.Printf("kafka Close: %v", err)
		}
	}
	if changeCache != nil {
		if err := changeCache.Close(); err != nil {
			log.Printf("redis Close: %v", err)
		}
	}
	pool.Close()

	log.Println("graceful shutdown complete")
}
