// bench-claims measures claim/complete throughput and lock contention by
// driving concurrent agents against a throwaway coordination directory.
// Every lock acquisition opens a fresh descriptor, so goroutines contend
// through the kernel flock exactly like separate CLI invocations.
//
// Usage:
//
//	go run ./scripts/bench-claims --agents 16 --claims 200 \
//	  --sampling none --cpu-profile /tmp/claims.prof
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"slices"
	"sync"
	"time"

	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
	"github.com/swarmsh/swarmsh/pkg/ids"
)

type workerResult struct {
	claimLatency    []time.Duration
	completeLatency []time.Duration
	errors          int
}

func main() {
	dir := flag.String("dir", "", "Coordination directory (empty = temp dir, removed afterwards)")
	agents := flag.Int("agents", 8, "Concurrent claiming agents")
	claims := flag.Int("claims", 100, "Claim/complete cycles per agent")
	sampling := flag.String("sampling", "all", "Span sampling policy (all, none, ratio:<f>)")
	lockTimeout := flag.Duration("lock-timeout", 10*time.Second, "Lock acquisition timeout")
	cpuProfile := flag.String("cpu-profile", "", "Write a CPU profile to this path")

	flag.Parse()

	if *agents <= 0 || *claims <= 0 {
		log.Fatal("--agents and --claims must be positive")
	}

	root := *dir
	if root == "" {
		tmp, tmpErr := os.MkdirTemp("", "bench-claims-*")
		if tmpErr != nil {
			log.Fatalf("mkdir temp: %v", tmpErr)
		}
		defer os.RemoveAll(tmp)

		root = tmp
	}

	if *cpuProfile != "" {
		cpuFile, cpuErr := os.Create(*cpuProfile)
		if cpuErr != nil {
			log.Fatalf("create cpu profile: %v", cpuErr)
		}
		defer cpuFile.Close()

		if startErr := pprof.StartCPUProfile(cpuFile); startErr != nil {
			log.Fatalf("start cpu profile: %v", startErr)
		}

		defer pprof.StopCPUProfile()

		log.Printf("CPU profiling enabled -> %s", *cpuProfile)
	}

	st, err := store.Open(root, store.WithLockTimeout(*lockTimeout))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	sampler, err := telemetry.NewSampler(*sampling)
	if err != nil {
		log.Fatalf("sampler: %v", err)
	}

	minter := ids.New()
	tracer := telemetry.New(st.Spans(), minter,
		telemetry.WithService("bench-claims", "dev"),
		telemetry.WithSampler(sampler),
	)

	// Headroom so the system-wide open cap never gates the measurement.
	eng := engine.New(st, tracer, minter,
		engine.WithMaxWorkActive(*agents**claims),
	)

	ctx := context.Background()

	agentIDs := make([]string, *agents)
	for i := range agentIDs {
		agentIDs[i] = fmt.Sprintf("bench_agent_%03d", i)

		if _, regErr := eng.Register(ctx, engine.RegisterRequest{
			AgentID: agentIDs[i],
			Team:    "bench",
		}); regErr != nil {
			log.Fatalf("register %s: %v", agentIDs[i], regErr)
		}
	}

	log.Printf("running %d agents x %d claim/complete cycles against %s", *agents, *claims, root)

	results := make([]workerResult, *agents)
	start := time.Now()

	var wg sync.WaitGroup

	for w := range *agents {
		wg.Add(1)

		go func() {
			defer wg.Done()

			res := &results[w]
			res.claimLatency = make([]time.Duration, 0, *claims)
			res.completeLatency = make([]time.Duration, 0, *claims)

			for range *claims {
				claimStart := time.Now()

				item, claimErr := eng.Claim(ctx, engine.ClaimRequest{
					AgentID:  agentIDs[w],
					WorkType: "bench",
					Team:     "bench",
				})
				if claimErr != nil {
					res.errors++

					continue
				}

				res.claimLatency = append(res.claimLatency, time.Since(claimStart))

				completeStart := time.Now()

				_, compErr := eng.Complete(ctx, engine.CompleteRequest{
					AgentID: agentIDs[w],
					WorkID:  item.WorkID,
					Result:  "success",
				})
				if compErr != nil {
					res.errors++

					continue
				}

				res.completeLatency = append(res.completeLatency, time.Since(completeStart))
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	if flushErr := tracer.Close(ctx); flushErr != nil {
		log.Printf("warning: flush spans: %v", flushErr)
	}

	var claimAll, completeAll []time.Duration

	failed := 0

	for i := range results {
		claimAll = append(claimAll, results[i].claimLatency...)
		completeAll = append(completeAll, results[i].completeLatency...)
		failed += results[i].errors
	}

	ops := len(claimAll) + len(completeAll)

	fmt.Println()
	fmt.Println("=== Throughput ===")
	fmt.Printf("agents=%d cycles=%d ops=%d errors=%d conflicts=%d\n",
		*agents, *claims, ops, failed, eng.Conflicts())
	fmt.Printf("elapsed=%s throughput=%.1f ops/s\n",
		elapsed.Round(time.Millisecond), float64(ops)/elapsed.Seconds())

	fmt.Println()
	fmt.Println("=== Operation Latency ===")
	fmt.Printf("%-10s %8s %10s %10s %10s %10s\n", "Op", "Count", "p50", "p95", "p99", "Max")

	printLatencyRow("claim", claimAll)
	printLatencyRow("complete", completeAll)
}

func printLatencyRow(op string, latencies []time.Duration) {
	if len(latencies) == 0 {
		fmt.Printf("%-10s %8d\n", op, 0)

		return
	}

	slices.Sort(latencies)

	fmt.Printf("%-10s %8d %10s %10s %10s %10s\n",
		op, len(latencies),
		rounded(percentile(latencies, 0.50)),
		rounded(percentile(latencies, 0.95)),
		rounded(percentile(latencies, 0.99)),
		rounded(latencies[len(latencies)-1]))
}

// percentile picks the q-th percentile from an ascending-sorted slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q * float64(len(sorted)-1))

	return sorted[idx]
}

func rounded(d time.Duration) time.Duration {
	return d.Round(10 * time.Microsecond)
}
