package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/harborhq/aigateway/pkg/api"
	"github.com/harborhq/aigateway/pkg/billing"
	"github.com/harborhq/aigateway/pkg/cache"
	"github.com/harborhq/aigateway/pkg/config"
	"github.com/harborhq/aigateway/pkg/gateway"
	"github.com/harborhq/aigateway/pkg/middleware"
	"github.com/harborhq/aigateway/pkg/provider"
	"github.com/harborhq/aigateway/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Config with hot reload
	cfgStore, err := config.LoadAndWatch()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgStore.Get()
	if cfg == nil {
		log.Fatal("Config could not be read")
	}

	// 2. Initialize Redis (if enabled)
	var rdb *cache.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Could not connect to Redis: %v", err)
		}
		fmt.Println("✅ Connected to Redis successfully!")
	}

	// 3. Rate limiter: distributed counters when Redis is up, in-process otherwise
	var counters ratelimit.CounterStore
	if rdb != nil {
		counters = ratelimit.NewRedisCounterStore(rdb)
	} else {
		counters = ratelimit.NewMemoryCounterStore()
		fmt.Println("⚠️  Redis disabled: rate limit counters are per-process only")
	}
	limiter := ratelimit.New(counters, cfgStore)
	if cfg.RateLimit.Enabled {
		fmt.Println("✅ Rate limiting enabled")
	}

	// 4. Response cache (only if Redis is connected)
	respCache := cache.NewResponseCache(rdb)
	if respCache != nil {
		fmt.Println("✅ Response caching enabled")
	}

	// 5. Usage ledger + billing (if Postgres is configured)
	var ledger billing.Ledger
	var meter *billing.Meter
	var reporter *billing.Reporter
	if cfg.Postgres.Enabled {
		pg, err := billing.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("Could not connect to Postgres: %v", err)
		}
		ledger = pg
		meter = billing.NewMeter(billing.NewPricer(cfgStore), ledger)
		fmt.Println("✅ Usage ledger enabled")

		if cfg.Stripe.Enabled {
			sc, err := billing.NewStripeClient(cfg.Stripe.APIKey)
			if err != nil {
				log.Fatalf("Could not initialize Stripe: %v", err)
			}
			reporter = billing.NewReporter(ledger, sc)
			fmt.Println("✅ Billing reporter enabled")
		}
	}

	// 6. Provider (closed dispatch by tag, one active per deployment)
	providerName, providerCfg := activeProvider(cfg)
	prov, err := provider.New(providerName, providerCfg)
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}
	fmt.Printf("✅ Provider ready: %s\n", prov.Name())

	// 7. Gateway facade
	gw := gateway.New(prov, respCache, limiter, meter)

	// 8. Setup HTTP Server
	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := gw.HealthCheck(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("provider unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Analysis API
	api.NewAnalyzeAPI(gw).RegisterRoutes(mux)

	// Admin API
	if cfg.Admin.AdminKey != "" {
		api.NewAdminAPI(limiter, reporter, ledger, cfg.Admin.AdminKey).RegisterRoutes(mux)
		fmt.Println("✅ Admin API enabled at /admin/*")
	}

	handler := middleware.RequestLogger(mux)

	// 9. Start Server
	fmt.Println("\n🚀 AI Gateway Features Active:")
	fmt.Println("   - Metrics:         http://localhost" + cfg.Server.Port + "/metrics")
	fmt.Println("   - Health Check:    http://localhost" + cfg.Server.Port + "/health")
	fmt.Println("   - Analyze:         http://localhost" + cfg.Server.Port + "/v1/analyze")
	fmt.Println("\n📊 Configuration can be hot-reloaded by editing configs/config.yaml")
	fmt.Printf("\n🎯 Server listening on %s\n", cfg.Server.Port)

	if err := http.ListenAndServe(cfg.Server.Port, handler); err != nil {
		log.Fatal("Server failed:", err)
	}
}

// activeProvider prefers the acme provider when configured, otherwise the
// first configured entry. Deployments run a single provider variant at a time.
func activeProvider(cfg *config.Config) (string, config.ProviderConfig) {
	if pc, ok := cfg.Providers["acme"]; ok {
		return "acme", pc
	}
	for name, pc := range cfg.Providers {
		return name, pc
	}
	log.Fatal("No providers configured")
	return "", config.ProviderConfig{}
}
