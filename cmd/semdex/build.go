package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkoess/semdex/internal/server"
	"github.com/dkoess/semdex/pkg/core/hnsw"
	"github.com/dkoess/semdex/pkg/persistence"
)

var (
	buildCorpus     string
	buildOut        string
	buildQuantize   bool
	buildM          int
	buildEfc        int
	buildSeed       int64
	buildEmbedBatch int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed a corpus and build an index file",
	Long: `Build reads documents from a CSV corpus (first column), embeds them in
batches through the configured backend, constructs the graph, and writes
the index file. Any failure aborts the build; a partial index is never
left at the output path.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildCorpus, "corpus", "", "path to CSV corpus, documents in the first column")
	buildCmd.Flags().StringVar(&buildOut, "out", "index.sdx", "output index file")
	buildCmd.Flags().BoolVar(&buildQuantize, "quantize", false, "store int8 quantized vectors")
	buildCmd.Flags().IntVar(&buildM, "m", 0, "graph degree bound, overrides config when set")
	buildCmd.Flags().IntVar(&buildEfc, "ef-construction", 0, "construction beam width, overrides config when set")
	buildCmd.Flags().Int64Var(&buildSeed, "seed", 0, "level draw seed")
	buildCmd.Flags().IntVar(&buildEmbedBatch, "embed-batch", 64, "documents per embedding request")
	buildCmd.MarkFlagRequired("corpus")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if buildQuantize {
		cfg.Index.Quantized = true
	}
	if buildM > 0 {
		cfg.Index.M = buildM
	}
	if buildEfc > 0 {
		cfg.Index.EfConstruction = buildEfc
	}
	if buildSeed != 0 {
		cfg.Index.Seed = buildSeed
	}

	docs, err := readCorpus(buildCorpus)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("corpus %s holds no documents", buildCorpus)
	}
	slog.Info("corpus loaded", "documents", len(docs))

	emb, err := server.NewEmbedder(cfg.Embedder, cfg.Index.Dim)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	vectors := make([][]float32, 0, len(docs))
	embedStart := time.Now()
	for off := 0; off < len(docs); off += buildEmbedBatch {
		end := off + buildEmbedBatch
		if end > len(docs) {
			end = len(docs)
		}
		batch, err := emb.EmbedBatch(ctx, docs[off:end])
		if err != nil {
			return fmt.Errorf("embedding documents %d..%d: %w", off, end, err)
		}
		vectors = append(vectors, batch...)
		slog.Info("embedding progress", "done", end, "total", len(docs))
	}
	slog.Info("corpus embedded", "elapsed", time.Since(embedStart).String())

	buildStart := time.Now()
	idx, err := hnsw.Build(ctx, vectors, cfg.Index.HNSWConfig())
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	slog.Info("index built",
		"vectors", idx.Len(),
		"max_layer", idx.MaxLayer(),
		"quantized", cfg.Index.Quantized,
		"elapsed", time.Since(buildStart).String(),
	)

	if err := persistence.Save(buildOut, idx); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	slog.Info("index written", "path", buildOut)
	return nil
}

// readCorpus returns the first CSV column of every row. Rows with no
// columns are skipped.
func readCorpus(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var docs []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading corpus %s: %w", path, err)
		}
		if len(record) > 0 && record[0] != "" {
			docs = append(docs, record[0])
		}
	}
	return docs, nil
}
