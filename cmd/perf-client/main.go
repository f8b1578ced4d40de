package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-envconfig"
	"golang.org/x/time/rate"

	"github.com/kkkkikiki/promo/internal/logger"
	"github.com/kkkkikiki/promo/internal/model"
	"github.com/kkkkikiki/promo/internal/service"
)

// PerfResult gathers aggregated metrics for the redemption run.
// LatencySum and P95Latency are in nanoseconds.
type PerfResult struct {
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

// perfConfig is read from PERF_* environment variables
type perfConfig struct {
	BaseURL   string        `env:"BASE_URL,default=http://localhost:8080"`
	Workers   int           `env:"WORKERS,default=50"`
	RPS       int           `env:"RPS,default=40"`
	Duration  time.Duration `env:"DURATION,default=30s"`
	Codes     int           `env:"CODES,default=5000"`
	AssignMax int           `env:"ASSIGN_BATCH,default=500"`
}

const defaultTimeout = 30 * time.Second

func (c perfConfig) validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("PERF_WORKERS must be positive, got %d", c.Workers)
	case c.RPS <= 0:
		return fmt.Errorf("PERF_RPS must be positive, got %d", c.RPS)
	case c.Duration <= 0:
		return fmt.Errorf("PERF_DURATION must be positive, got %s", c.Duration)
	case c.Codes <= 0:
		return fmt.Errorf("PERF_CODES must be positive, got %d", c.Codes)
	case c.AssignMax <= 0:
		return fmt.Errorf("PERF_ASSIGN_BATCH must be positive, got %d", c.AssignMax)
	}
	return nil
}

func main() {
	logger.Init("debug", logger.Options{})
	log := logger.S()

	var cfg perfConfig
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("PERF_", envconfig.OsLookuper()),
	}); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 4,
		MaxIdleConnsPerHost: cfg.Workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := service.NewClient(httpClient, cfg.BaseURL)

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelSetup()

	before, err := client.GetReport(setupCtx)
	if err != nil {
		log.Fatalf("failed to read report: %v", err)
	}

	codes, err := prepareCodes(setupCtx, client, cfg)
	if err != nil {
		log.Fatalf("failed to prepare codes: %v", err)
	}

	log.Infow("starting redemption load",
		"base_url", cfg.BaseURL,
		"codes", len(codes),
		"rps", cfg.RPS,
		"workers", cfg.Workers,
		"duration", cfg.Duration,
	)

	burst := cfg.RPS / cfg.Workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var result PerfResult
	var wg sync.WaitGroup
	var next atomic.Int64

	latencyChan := make(chan time.Duration, 4096)
	trackerDone := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(trackerDone)
	}()

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				code := codes[int(next.Add(1)-1)%len(codes)]
				doRedeem(client, code, &result, latencyChan)
			}
		}()
	}

	start := time.Now()
	<-ctx.Done()
	wg.Wait()
	close(latencyChan)
	<-trackerDone
	totalDur := time.Since(start)

	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	var successRate float64
	if result.TotalRequests > 0 {
		successRate = float64(result.SuccessCount) / float64(result.TotalRequests) * 100
	}

	log.Infow("redemption load finished",
		"elapsed", totalDur.Round(time.Millisecond),
		"requests", result.TotalRequests,
		"succeeded", result.SuccessCount,
		"failed", result.ErrorCount,
		"rps", fmt.Sprintf("%.2f", float64(result.SuccessCount)/totalDur.Seconds()),
		"success_rate", fmt.Sprintf("%.2f%%", successRate),
		"avg_latency", avgLatency,
		"p95_latency", time.Duration(result.P95Latency),
	)

	if err := verifyConsistency(client, before.Report, len(codes), result.SuccessCount); err != nil {
		log.Errorf("consistency check failed: %v", err)
		os.Exit(1)
	}
	log.Info("consistency check passed")
}

// prepareCodes generates a fresh batch and spreads it across every agent
func prepareCodes(ctx context.Context, client *service.Client, cfg perfConfig) ([]string, error) {
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	if len(agents.Agents) == 0 {
		return nil, fmt.Errorf("no agents configured, set APP_SEED_AGENTS on the server")
	}

	prefix := fmt.Sprintf("PERF%d", time.Now().Unix())
	generated, err := client.GenerateCodes(ctx, &service.GenerateCodesRequest{Prefix: prefix, Count: cfg.Codes})
	if err != nil {
		return nil, fmt.Errorf("generate codes: %w", err)
	}

	codes := make([]string, 0, len(generated.Codes))
	for i := 0; i < len(generated.Codes); i += cfg.AssignMax {
		end := min(i+cfg.AssignMax, len(generated.Codes))
		batch := generated.Codes[i:end]

		ids := make([]int64, len(batch))
		for j, code := range batch {
			ids[j] = code.ID
			codes = append(codes, code.Code)
		}
		agent := agents.Agents[(i/cfg.AssignMax)%len(agents.Agents)]
		if _, err := client.AssignCodes(ctx, &service.AssignCodesRequest{CodeIDs: ids, AgentID: agent.ID}); err != nil {
			return nil, fmt.Errorf("assign codes to %s: %w", agent.ID, err)
		}
	}
	return codes, nil
}

// doRedeem performs a single RedeemCode call and collects metrics
func doRedeem(client *service.Client, code string, result *PerfResult, latencyChan chan<- time.Duration) {
	// independent context so in-flight calls finish when the run ends
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	resp, err := client.RedeemCode(ctx, &service.RedeemCodeRequest{
		Code:          code,
		CustomerName:  "Load Test",
		CustomerPhone: "0000000000",
	})
	latency := time.Since(start)

	if err != nil || resp.Redemption.ID == "" {
		atomic.AddInt64(&result.ErrorCount, 1)
		return
	}
	atomic.AddInt64(&result.SuccessCount, 1)
	atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
	select {
	case latencyChan <- latency:
	default:
	}
}

// trackP95 keeps a best-effort P95 over a bounded sample
func trackP95(latencies <-chan time.Duration, result *PerfResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
			buf[idx] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && len(buf)%100 == 0 {
			sorted := make([]int64, len(buf))
			copy(sorted, buf)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
			atomic.StoreInt64(&result.P95Latency, sorted[p95Index])
		}
	}
}

// verifyConsistency compares the server report against what this run did
func verifyConsistency(client *service.Client, before model.Report, generated int, redeemed int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	after, err := client.GetReport(ctx)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}
	report := after.Report

	if got := report.Total - before.Total; got != generated {
		return fmt.Errorf("code count mismatch: server=%d, client=%d", got, generated)
	}
	if got := int64(report.Redemptions - before.Redemptions); got != redeemed {
		return fmt.Errorf("redemption mismatch: server=%d, client=%d", got, redeemed)
	}
	if report.Assigned+report.Unassigned != report.Total {
		return fmt.Errorf("status counts %d+%d do not add up to %d", report.Assigned, report.Unassigned, report.Total)
	}
	return nil
}
