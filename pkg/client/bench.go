package client

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// BenchOptions configures a benchmark run against a live server.
type BenchOptions struct {
	Users     int      // concurrent users
	Requests  int      // requests per user
	BatchSize int      // queries per request
	K         int      // neighbors per query
	Warmup    int      // serial warm-up requests before measuring
	Queries   []string // query pool, cycled through round-robin
}

func (o *BenchOptions) defaults() {
	if o.Users <= 0 {
		o.Users = 1
	}
	if o.Requests <= 0 {
		o.Requests = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}
	if o.K <= 0 {
		o.K = 10
	}
	if o.Warmup < 0 {
		o.Warmup = 0
	}
}

// LatencySummary condenses a latency distribution into the usual
// reporting points.
type LatencySummary struct {
	Mean time.Duration
	Max  time.Duration
	P95  time.Duration
	P99  time.Duration
	P999 time.Duration
}

// BenchReport is the outcome of a benchmark run. Model and Search summarize
// the server-reported stage latencies; Total is wall time per request as
// seen by the client.
type BenchReport struct {
	Requests   int
	Failures   int
	Elapsed    time.Duration
	Throughput float64 // successful requests per second
	Total      LatencySummary
	Model      LatencySummary
	Search     LatencySummary
}

// String renders the report in a form meant for terminals.
func (r *BenchReport) String() string {
	line := func(name string, s LatencySummary) string {
		return fmt.Sprintf("  %-7s mean=%-10s max=%-10s p95=%-10s p99=%-10s p99.9=%s\n",
			name, s.Mean, s.Max, s.P95, s.P99, s.P999)
	}
	out := fmt.Sprintf("requests: %d (failed: %d) in %s, %.1f req/s\n",
		r.Requests, r.Failures, r.Elapsed.Round(time.Millisecond), r.Throughput)
	out += line("total", r.Total)
	out += line("model", r.Model)
	out += line("search", r.Search)
	return out
}

type sample struct {
	total  time.Duration
	model  time.Duration
	search time.Duration
}

// Bench drives the server with opts.Users concurrent workers, each issuing
// opts.Requests predict calls of opts.BatchSize queries. A serial warm-up
// phase runs first so connection setup and server caches do not skew the
// measured distribution.
func (c *Client) Bench(ctx context.Context, opts BenchOptions) (*BenchReport, error) {
	opts.defaults()
	if len(opts.Queries) == 0 {
		return nil, fmt.Errorf("bench: query pool is empty")
	}

	pick := func(i int) []string {
		batch := make([]string, opts.BatchSize)
		for j := range batch {
			batch[j] = opts.Queries[(i*opts.BatchSize+j)%len(opts.Queries)]
		}
		return batch
	}

	for i := 0; i < opts.Warmup; i++ {
		if _, err := c.Predict(ctx, pick(i), opts.K); err != nil {
			return nil, fmt.Errorf("bench warm-up: %w", err)
		}
	}

	perUser := make([][]sample, opts.Users)
	failures := make([]int, opts.Users)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for u := 0; u < opts.Users; u++ {
		g.Go(func() error {
			samples := make([]sample, 0, opts.Requests)
			for i := 0; i < opts.Requests; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				reqStart := time.Now()
				res, err := c.Predict(ctx, pick(u*opts.Requests+i), opts.K)
				if err != nil {
					failures[u]++
					continue
				}
				samples = append(samples, sample{
					total:  time.Since(reqStart),
					model:  time.Duration(res.ModelLatency),
					search: time.Duration(res.SearchLatency),
				})
			}
			perUser[u] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	var all []sample
	failed := 0
	for u := range perUser {
		all = append(all, perUser[u]...)
		failed += failures[u]
	}

	report := &BenchReport{
		Requests: len(all) + failed,
		Failures: failed,
		Elapsed:  elapsed,
	}
	if len(all) > 0 {
		report.Throughput = float64(len(all)) / elapsed.Seconds()
		report.Total = summarize(all, func(s sample) time.Duration { return s.total })
		report.Model = summarize(all, func(s sample) time.Duration { return s.model })
		report.Search = summarize(all, func(s sample) time.Duration { return s.search })
	}
	return report, nil
}

func summarize(samples []sample, field func(sample) time.Duration) LatencySummary {
	values := make([]time.Duration, len(samples))
	var sum time.Duration
	for i, s := range samples {
		values[i] = field(s)
		sum += values[i]
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return LatencySummary{
		Mean: sum / time.Duration(len(values)),
		Max:  values[len(values)-1],
		P95:  percentile(values, 0.95),
		P99:  percentile(values, 0.99),
		P999: percentile(values, 0.999),
	}
}

// percentile reads the q-quantile from an ascending-sorted slice using the
// nearest-rank method.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
