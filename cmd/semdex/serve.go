package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dkoess/semdex/internal/server"
	"github.com/dkoess/semdex/pkg/core/distance"
	"github.com/dkoess/semdex/pkg/core/hnsw"
	"github.com/dkoess/semdex/pkg/persistence"
)

var (
	serveIndex string
	serveAddr  string
	serveMmap  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predict requests over a built index",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveIndex, "index", "index.sdx", "path to the index file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides config when set")
	serveCmd.Flags().BoolVar(&serveMmap, "mmap", false, "serve vectors straight from a memory mapped index file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	var (
		idx    *hnsw.Index
		closer io.Closer
	)
	if serveMmap {
		idx, closer, err = persistence.LoadMmap(serveIndex)
	} else {
		idx, err = persistence.Load(serveIndex)
	}
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	if err := persistence.Check(serveIndex, idx, cfg.Index.Dim, distance.Metric(cfg.Index.Metric)); err != nil {
		return err
	}
	slog.Info("index loaded",
		"path", serveIndex,
		"vectors", idx.Len(),
		"dim", idx.Config().Dim,
		"quantized", idx.Config().Quantized,
		"mmap", serveMmap,
	)

	emb, err := server.NewEmbedder(cfg.Embedder, cfg.Index.Dim)
	if err != nil {
		return err
	}
	srv, err := server.NewServer(cfg, idx, emb)
	if err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case sig := <-shutdown:
		slog.Info("signal received", "signal", sig.String())
		srv.Shutdown()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
