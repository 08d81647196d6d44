package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"kvcache/internal/cache"
	"kvcache/internal/cache/manager"
	"kvcache/internal/cache/metrics"
	"kvcache/internal/cache/serializer"
	"kvcache/internal/common/logging"
	"kvcache/internal/config"
)

const usage = `usage: kvcache [flags] <command> [args]

commands:
  clean                      remove expired entries from every configured store
  clear                      remove every entry from the store
  get <key>                  print the value stored under key
  set <key> <json> [ttl]     store a JSON value, optionally with a TTL such as 10m
  delete <key>               remove key
  keys <tag>                 list the keys recorded under tag
  invalidate <tag>...        remove every key recorded under the tags

flags:
`

func main() {
	os.Exit(realMain())
}

// realMain returns the exit code so deferred cleanup runs before exiting.
func realMain() int {
	storeName := flag.String("store", "", "store to operate on (default: CACHE_DEFAULT)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall command timeout")
	withMetrics := flag.Bool("metrics", false, "print cache metrics to stdout on exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	if err := logging.InitGlobalLogger(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.MustSync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	stores, err := cfg.Stores()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	opts := []manager.Option{manager.WithLogger(logging.GetGlobalLogger())}
	if *withMetrics {
		provider, recorder, err := stdoutMetrics()
		if err != nil {
			log.Fatalf("Failed to initialize metrics: %v", err)
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				logging.Error("Failed to flush metrics", err)
			}
		}()
		opts = append(opts, manager.WithMetrics(recorder))
	}

	mgr, err := manager.New(cfg.DefaultStore, stores, opts...)
	if err != nil {
		log.Fatalf("Failed to create cache manager: %v", err)
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logging.Error("Failed to close cache stores", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	name := *storeName
	if name == "" {
		name = cfg.DefaultStore
	}

	if err := run(ctx, mgr, name, flag.Args()); err != nil {
		logging.Error("Command failed", err, logging.Store(name))
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func stdoutMetrics() (*sdkmetric.MeterProvider, metrics.Recorder, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	recorder, err := metrics.New(provider.Meter("kvcache"))
	if err != nil {
		return nil, nil, err
	}
	return provider, recorder, nil
}

func run(ctx context.Context, mgr *manager.Manager, name string, args []string) error {
	if len(args) == 0 {
		args = []string{"clean"}
	}
	cmd, args := args[0], args[1:]

	if cmd == "clean" {
		return clean(ctx, mgr)
	}

	store, err := mgr.Store(name)
	if err != nil {
		return err
	}

	switch cmd {
	case "clear":
		if !store.Clear(ctx) {
			return fmt.Errorf("failed to clear store %s", name)
		}
		fmt.Printf("cleared %s\n", name)
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get takes exactly one key")
		}
		return get(ctx, store, args[0])

	case "set":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("set takes a key, a JSON value and an optional ttl")
		}
		return set(ctx, store, args)

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("delete takes exactly one key")
		}
		removed, err := store.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(removed)
		return nil

	case "keys":
		if len(args) != 1 {
			return fmt.Errorf("keys takes exactly one tag")
		}
		tc, err := mgr.Tags(name)
		if err != nil {
			return err
		}
		keys, err := tc.GetKeysByTag(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(keys, "\n"))
		return nil

	case "invalidate":
		if len(args) == 0 {
			return fmt.Errorf("invalidate takes at least one tag")
		}
		tc, err := mgr.Tags(name, args...)
		if err != nil {
			return err
		}
		ok, err := tc.InvalidateTags(ctx, args...)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("some tagged keys could not be removed")
		}
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func clean(ctx context.Context, mgr *manager.Manager) error {
	// Only built stores are swept, so build every configured one first.
	for _, name := range mgr.Names() {
		if _, err := mgr.Store(name); err != nil {
			logging.Warn("Skipping unavailable cache store",
				logging.Store(name),
				logging.Err(err),
			)
		}
	}

	removed, err := mgr.CleanExpired(ctx)
	names := make([]string, 0, len(removed))
	for name := range removed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: removed %d expired entries\n", name, removed[name])
	}
	return err
}

func get(ctx context.Context, store cache.Store, key string) error {
	value, err := store.Get(ctx, key, nil)
	if err != nil {
		return err
	}
	out, err := serializer.Serialize(value)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func set(ctx context.Context, store cache.Store, args []string) error {
	value, err := serializer.Deserialize([]byte(args[1]))
	if err != nil {
		return fmt.Errorf("value must be JSON: %w", err)
	}

	var ttl []time.Duration
	if len(args) == 3 {
		d, err := time.ParseDuration(args[2])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		ttl = append(ttl, d)
	}

	ok, err := store.Set(ctx, args[0], value, ttl...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("store rejected the write")
	}
	return nil
}
