package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietvoice/prism/internal/engine"
	"github.com/quietvoice/prism/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openStore(&cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng, err := engine.New(db, &cfg, nil)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	// Similarity matching needs an embedder; everything else works without.
	ollamaURL := os.Getenv("OLLAMA_URL")
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	embeddingModel := os.Getenv("OLLAMA_EMBED_MODEL")
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}
	if engine.ProbeOllama(ollamaURL, embeddingModel) {
		eng.SetEmbedder(engine.NewOllamaEmbedder(ollamaURL, embeddingModel, 768))
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", embeddingModel)
	} else {
		fmt.Fprintln(os.Stderr, "  embedder: none (similarity search disabled)")
	}

	eng.StartSweeps()
	defer eng.Stop()

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "prism serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
