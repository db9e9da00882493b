package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/harborhq/aigateway/pkg/billing"
	"github.com/harborhq/aigateway/pkg/cache"
	"github.com/harborhq/aigateway/pkg/config"
	"github.com/harborhq/aigateway/pkg/ratelimit"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "limits":
		cfgStore := mustLoadConfig()
		handleLimits(cfgStore)
	case "report":
		cfgStore := mustLoadConfig()
		handleReport(cfgStore)
	case "set-account":
		cfgStore := mustLoadConfig()
		handleSetAccount(cfgStore)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("gateway-admin commands:")
	fmt.Println("  limits               Show rate limit status for a provider")
	fmt.Println("     flags: -provider -workspace -developer")
	fmt.Println("  report               Report unreported usage to the billing platform")
	fmt.Println("     flags: -customer (empty = all customers)")
	fmt.Println("  set-account          Create or update a customer billing account")
	fmt.Println("     flags: -customer -stripe-customer -subscription-item -inactive")
}

func mustLoadConfig() *config.Store {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return config.NewStaticStore(cfg)
}

func mustLedger(cfgStore *config.Store) billing.Ledger {
	cfg := cfgStore.Get()
	if cfg == nil || !cfg.Postgres.Enabled {
		log.Fatal("postgres is not enabled in config")
	}
	ledger, err := billing.OpenPostgres(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	return ledger
}

func handleLimits(cfgStore *config.Store) {
	fs := flag.NewFlagSet("limits", flag.ExitOnError)
	providerName := fs.String("provider", "acme", "Provider name")
	workspace := fs.String("workspace", "", "Workspace ID")
	developer := fs.String("developer", "", "Developer ID")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	cfg := cfgStore.Get()
	var counters ratelimit.CounterStore
	if cfg.Redis.Enabled {
		rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		counters = ratelimit.NewRedisCounterStore(rdb)
	} else {
		counters = ratelimit.NewMemoryCounterStore()
	}

	limiter := ratelimit.New(counters, cfgStore)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := limiter.Status(ctx, *providerName, *workspace, *developer)
	if err != nil {
		log.Fatalf("failed to get status: %v", err)
	}

	b, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(b))
}

func handleReport(cfgStore *config.Store) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	customer := fs.String("customer", "", "Customer ID (empty = all)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	cfg := cfgStore.Get()
	if !cfg.Stripe.Enabled {
		log.Fatal("stripe is not enabled in config")
	}

	sc, err := billing.NewStripeClient(cfg.Stripe.APIKey)
	if err != nil {
		log.Fatalf("failed to initialize stripe: %v", err)
	}
	reporter := billing.NewReporter(mustLedger(cfgStore), sc)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *customer != "" {
		summary, err := reporter.ReportCustomer(ctx, *customer)
		if err != nil {
			log.Fatalf("report failed: %v", err)
		}
		b, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(b))
		return
	}

	result, err := reporter.ReportAll(ctx)
	if err != nil {
		log.Fatalf("report batch failed: %v", err)
	}
	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}

func handleSetAccount(cfgStore *config.Store) {
	fs := flag.NewFlagSet("set-account", flag.ExitOnError)
	customer := fs.String("customer", "", "Customer ID")
	stripeCustomer := fs.String("stripe-customer", "", "Stripe customer ID")
	subItem := fs.String("subscription-item", "", "Stripe subscription item ID")
	inactive := fs.Bool("inactive", false, "Mark the account inactive")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	if *customer == "" || *subItem == "" {
		log.Fatal("-customer and -subscription-item are required")
	}

	ledger := mustLedger(cfgStore)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acct := &billing.Account{
		CustomerID:         *customer,
		StripeCustomerID:   *stripeCustomer,
		SubscriptionItemID: *subItem,
		Active:             !*inactive,
	}
	if err := ledger.UpsertAccount(ctx, acct); err != nil {
		log.Fatalf("failed to save account: %v", err)
	}

	fmt.Printf("Billing account saved for customer %s\n", *customer)
}
