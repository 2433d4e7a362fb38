package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"farmgate/client"
	v1 "farmgate/pkg/api/v1"
)

var (
	targetURL = flag.String("url", "http://localhost:8080", "Server base URL")
	token     = flag.String("token", "", "Bearer token, anonymous navigation when empty")
	totalVUs  = flag.Int("c", 500, "Total Virtual Users (Concurrency)")
	rampUp    = flag.Duration("ramp", 30*time.Second, "Ramp up duration")
	pollEvery = flag.Duration("poll", time.Second, "Navigation poll interval per VU")
	watchers  = flag.Int("watchers", 0, "How many VUs also hold a change stream open (needs -token)")
)

var (
	activeClients int64
	requests      int64
	requestErrors int64
	latencySum    int64 // microseconds
	latencyCount  int64
	changesRx     int64
)

func main() {
	flag.Parse()

	fmt.Printf("Starting load test\n")
	fmt.Printf("   Target: %s\n", *targetURL)
	fmt.Printf("   VUs: %d (watchers: %d)\n", *totalVUs, *watchers)
	fmt.Printf("   Ramp: %v\n", *rampUp)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go report(ctx)

	var wg sync.WaitGroup
	interval := *rampUp / time.Duration(*totalVUs)
	for i := 0; i < *totalVUs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runClient(ctx, id)
		}(i)
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}

	fmt.Println("All VUs launched. Waiting...")
	wg.Wait()
}

func report(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqs := atomic.SwapInt64(&requests, 0)
			latSum := atomic.SwapInt64(&latencySum, 0)
			latCnt := atomic.SwapInt64(&latencyCount, 0)

			avgLat := float64(0)
			if latCnt > 0 {
				avgLat = float64(latSum) / float64(latCnt) / 1000
			}
			fmt.Printf("[%s] Active: %d | Req/s: %d | Errors: %d | Changes: %d | Avg Latency: %.2f ms\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&activeClients), reqs,
				atomic.LoadInt64(&requestErrors),
				atomic.LoadInt64(&changesRx), avgLat)
		}
	}
}

func runClient(ctx context.Context, id int) {
	c := client.New(*targetURL, client.WithToken(*token))

	atomic.AddInt64(&activeClients, 1)
	defer atomic.AddInt64(&activeClients, -1)

	if *token != "" && id < *watchers {
		go c.WatchChanges(ctx, func(v1.Change) {
			atomic.AddInt64(&changesRx, 1)
		}, nil)
	}

	ticker := time.NewTicker(*pollEvery)
	defer ticker.Stop()
	for {
		start := time.Now()
		_, err := c.Navigation(ctx)
		atomic.AddInt64(&requests, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if atomic.AddInt64(&requestErrors, 1) == 1 {
				fmt.Printf("first error (client %d): %v\n", id, err)
			}
		} else {
			atomic.AddInt64(&latencySum, time.Since(start).Microseconds())
			atomic.AddInt64(&latencyCount, 1)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
