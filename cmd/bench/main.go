// Command bench runs a synthetic Zipf workload against a store and exposes
// optional pprof and Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IJSK10/fastkv/internal/logging"
	"github.com/IJSK10/fastkv/metrics/prom"
	"github.com/IJSK10/fastkv/policy"
	"github.com/IJSK10/fastkv/policy/twoq"
	"github.com/IJSK10/fastkv/store"
)

func main() {
	var (
		capacity = flag.Int("cap", 100_000, "store capacity (entries)")
		buckets  = flag.Int("buckets", 0, "initial bucket count (0 = default)")
		policyN  = flag.String("policy", "lru", "eviction policy: lru | 2q")
		poolSize = flag.Int("pool", 0, "store worker goroutines (0 = GOMAXPROCS)")

		clients  = flag.Int("clients", 2*runtime.GOMAXPROCS(0), "number of client goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")
		ttl      = flag.Duration("ttl", 0, "TTL for writes (0 = none)")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "preload entries (0 = cap/2)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", "", "serve Prometheus metrics at addr; empty = disabled")
		level       = flag.String("log", "warn", "store log level")
	)
	flag.Parse()

	log, err := logging.New(logging.Config{Level: *level, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if *pprofAddr != "" {
		go func() {
			log.Warn("pprof listening", zap.String("address", *pprofAddr))
			log.Warn("pprof stopped", zap.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}

	var m store.Metrics = store.NoopMetrics{}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = prom.New(reg, "fastkv", "bench", nil)
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Warn("metrics listening", zap.String("address", *metricsAddr))
			log.Warn("metrics stopped", zap.Error(http.ListenAndServe(*metricsAddr, nil)))
		}()
	}

	var pol policy.Policy
	switch *policyN {
	case "lru":
		// nil selects LRU
	case "2q":
		pol = twoq.New(*capacity/4, *capacity/2)
	default:
		log.Fatal("unknown policy (use lru or 2q)", zap.String("policy", *policyN))
	}

	kv := store.New(store.Options{
		Capacity: *capacity,
		Buckets:  *buckets,
		Workers:  *poolSize,
		Policy:   pol,
		Metrics:  m,
		Logger:   log,
	})
	defer func() { _ = kv.Close() }()

	// Preload to get a realistic hit rate.
	pl := *preload
	if pl == 0 {
		pl = *capacity / 2
	}
	for i := 0; i < pl; i++ {
		k := "k:" + strconv.Itoa(i)
		if err := kv.Set(k, "v"+strconv.Itoa(i), *ttl); err != nil {
			log.Fatal("preload failed", zap.Error(err))
		}
	}

	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	n := *clients
	if n <= 0 {
		n = 1
	}

	var reads, writes, hits, misses, failed atomic.Uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < n; w++ {
		id := w
		g.Go(func() error {
			// rand.Rand is not goroutine-safe; one per client.
			r := rand.New(rand.NewSource(*seed + int64(id)*9973))
			zipf := rand.NewZipf(r, *zipfS, *zipfV, keysMax)
			key := func() string { return "k:" + strconv.FormatUint(zipf.Uint64(), 10) }

			for ctx.Err() == nil {
				if int(r.Int31n(100)) < readPctVal {
					reads.Add(1)
					switch _, err := kv.Get(key()); {
					case err == nil:
						hits.Add(1)
					case errors.Is(err, store.ErrNotFound):
						misses.Add(1)
					default:
						failed.Add(1)
					}
					continue
				}
				writes.Add(1)
				if err := kv.Set(key(), "v"+strconv.Itoa(r.Int()), *ttl); err != nil {
					failed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	readsN, writesN := reads.Load(), writes.Load()
	ops := readsN + writesN
	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hits.Load()) / float64(readsN) * 100
	}
	st := kv.Stats()

	fmt.Printf("policy=%s cap=%d pool=%d clients=%d keys=%d dur=%v seed=%d\n",
		*policyN, *capacity, st.Workers, n, *keys, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  failed=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN, failed.Load())
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hits.Load(), misses.Load(), hitRate)
	fmt.Printf("entries=%d buckets=%d evictions=%d expirations=%d reclaimed=%d\n",
		st.Entries, st.Buckets, st.Evictions, st.Expirations, st.Reclaimed)
}
