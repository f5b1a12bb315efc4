// Measures raw write and rehydration throughput of the event store through
// the repository, using one ship that gets the same plank replaced N times.
//
// BACKEND=nats needs a JetStream server, e.g.:
//
//	docker run --net=host nats:latest -js
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/harborward/theseus-go/adapters/nats"
	"github.com/harborward/theseus-go/core/cache"
	"github.com/harborward/theseus-go/core/es"
	"github.com/harborward/theseus-go/ship"
)

var (
	n             = getEnvInt("N", 50_000)
	batchSize     = getEnvInt("B", 1_000)
	backendType   = getEnv("BACKEND", "mem")
	snapshotEvery = getEnvInt("SNAPSHOT_EVERY", 20)
	cacheSize     = getEnvInt("CACHE", 0)
	loadAfterSave = getEnv("LOAD_AFTER_SAVE", "") != ""
)

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// eventCounter is a minimal projection so the consumer path is part of the
// measurement.
type eventCounter struct {
	total atomic.Int64
}

func (c *eventCounter) Context() string { return "counter" }
func (c *eventCounter) Apply(context.Context, es.Envelope, any) error {
	c.total.Add(1)
	return nil
}
func (c *eventCounter) View(string) (any, bool) { return c.total.Load(), true }

var _ es.Projection = (*eventCounter)(nil)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	fmt.Printf("backend:        %s\n", backendType)
	fmt.Printf("events:         %d\n", n)
	fmt.Printf("snapshot every: %d\n", snapshotEvery)
	fmt.Printf("hydration lru:  %d\n", cacheSize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	counter := &eventCounter{}
	opts := []es.EnvOption{
		es.WithCtx(ctx),
		es.WithLog(log),
		es.WithAggregates(&ship.Ship{}),
		es.WithProjections(counter),
		es.SnapshotEvery(es.Version(snapshotEvery)),
	}
	if cacheSize > 0 {
		opts = append(opts, es.WithHydrationCache(cache.NewLRU(cacheSize)))
	}

	switch backendType {
	case "nats":
		opts = append(opts, natsOptions(log)...)
	default:
		opts = append(opts, es.WithInMemory())
	}

	env, err := es.NewEnv(opts...)
	checkErr(err)
	defer env.Shutdown()

	repo := es.TypedRepo[*ship.Ship](env)

	// === write loop ===

	startAt := time.Now()

	s := repo.NewWithID("loadtest-ship")
	checkErr(s.Launch("Theseus", []ship.Plank{{Material: "oak", LengthCm: 300, WidthCm: 30}}))
	checkErr(repo.Save(ctx, s))

	lastTime := time.Now()
	for i := range n {
		checkErr(s.ReplacePlank(0, ship.Plank{Material: "teak", LengthCm: 300, WidthCm: 30}))
		checkErr(repo.Save(ctx, s))

		if loadAfterSave {
			s, err = repo.GetByID(ctx, "loadtest-ship")
			checkErr(err)
		}

		if i > 0 && i%batchSize == 0 {
			now := time.Now()
			took := now.Sub(lastTime)
			mem := memUsage()
			fmt.Printf(
				"| %7d events | %6d ms | %7d events/s | %4d / %4d MiB |\n",
				i, took.Milliseconds(), int(float64(batchSize)/took.Seconds()),
				mem.Alloc/1024/1024, mem.Sys/1024/1024,
			)
			lastTime = now
		}
	}

	// === rehydration ===

	rehydrateAt := time.Now()
	s, err = repo.GetByID(ctx, "loadtest-ship")
	checkErr(err)
	rehydrateTook := time.Since(rehydrateAt)

	// === stats ===

	took := time.Since(startAt)
	runtime.GC()

	fmt.Println("==========================================")
	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("      version: %d\n", s.Version())
	fmt.Printf("   stream seq: %d\n", s.Seq())
	fmt.Printf("avg. writes/s: %d\n", int(float64(n)/took.Seconds()))
	fmt.Printf("    rehydrate: %d ms\n", rehydrateTook.Milliseconds())
	projected, _ := counter.View("")
	fmt.Printf("    projected: %d events\n", projected)
}

func natsOptions(log *slog.Logger) []es.EnvOption {
	connect := nats.ReuseConnection(nats.ConnectDefault())

	store, err := nats.NewEventStore(nats.EventStoreConfig{
		Connect:       connect,
		Log:           log,
		SubjectPrefix: "theseus.loadtest",
		StreamName:    "THESEUS_LOADTEST",
	})
	checkErr(err)

	snapshotter, err := nats.NewSnapshotter(nats.KeyValueConfig{
		Connect: connect,
		Bucket:  "loadtest_snapshots",
	})
	checkErr(err)

	checkpoints, err := nats.NewCheckpoints(nats.KeyValueConfig{
		Connect: connect,
		Bucket:  "loadtest_checkpoints",
	})
	checkErr(err)

	return []es.EnvOption{
		es.WithStore(store),
		es.WithSnapshotter(snapshotter),
		es.WithCheckpoints(checkpoints),
	}
}

type MemUsage struct {
	Alloc uint64
	Sys   uint64
}

func memUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys}
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
