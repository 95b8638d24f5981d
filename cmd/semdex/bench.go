package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dkoess/semdex/pkg/client"
)

var (
	benchAddr      string
	benchToken     string
	benchUsers     int
	benchRequests  int
	benchBatchSize int
	benchK         int
	benchWarmup    int
	benchQueries   string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark a running server",
	Long: `Bench drives a running server with concurrent predict requests drawn
from a query file (one query per line) and reports per-stage latency
percentiles.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVar(&benchAddr, "addr", "http://localhost:8080", "server base URL")
	benchCmd.Flags().StringVar(&benchToken, "token", "", "bearer token, if the server requires one")
	benchCmd.Flags().IntVar(&benchUsers, "users", 4, "concurrent users")
	benchCmd.Flags().IntVar(&benchRequests, "requests", 100, "requests per user")
	benchCmd.Flags().IntVar(&benchBatchSize, "batch-size", 1, "queries per request")
	benchCmd.Flags().IntVar(&benchK, "k", 10, "neighbors per query")
	benchCmd.Flags().IntVar(&benchWarmup, "warmup", 10, "warm-up requests before measuring")
	benchCmd.Flags().StringVar(&benchQueries, "queries", "", "file with one query per line")
	benchCmd.MarkFlagRequired("queries")
}

func runBench(cmd *cobra.Command, args []string) error {
	queries, err := readQueries(benchQueries)
	if err != nil {
		return err
	}

	c := client.New(benchAddr, benchToken)
	if err := c.Healthz(cmd.Context()); err != nil {
		return fmt.Errorf("server at %s is not healthy: %w", benchAddr, err)
	}

	report, err := c.Bench(cmd.Context(), client.BenchOptions{
		Users:     benchUsers,
		Requests:  benchRequests,
		BatchSize: benchBatchSize,
		K:         benchK,
		Warmup:    benchWarmup,
		Queries:   queries,
	})
	if err != nil {
		return err
	}

	fmt.Print(report.String())
	return nil
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			queries = append(queries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading queries %s: %w", path, err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("query file %s is empty", path)
	}
	return queries, nil
}
