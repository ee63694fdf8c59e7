package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"localrag/internal/config"
	"localrag/internal/docs"
	"localrag/internal/llm"
	"localrag/internal/llm/ollama"
	"localrag/internal/log"
	"localrag/internal/models"
	"localrag/internal/pipeline"
	"localrag/internal/server"
	"localrag/internal/vectorstore"
	"localrag/internal/version"
	"localrag/internal/websearch"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, cfgPath, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := log.New()
	defer logger.Sync()
	logger.Debug("config loaded", zap.String("path", cfgPath))

	var runErr error
	switch os.Args[1] {
	case "ask":
		runErr = runAsk(cfg, logger, os.Args[2:])
	case "index":
		runErr = runIndex(cfg, logger, os.Args[2:])
	case "models":
		runErr = runModels(cfg, logger, os.Args[2:])
	case "serve":
		runErr = runServe(cfg, logger, os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `localrag - local RAG assistant over your own documents

Usage:
  localrag ask [--folder DIR] [--k N] [--web] [--timeout DUR] "question"
  localrag index [--folder DIR] [--urls URL,...]
  localrag models
  localrag serve [--addr HOST:PORT]
  localrag version`)
}

func newGateway(cfg *config.Config, logger *zap.Logger) *ollama.Client {
	return ollama.New(cfg.OllamaURL, cfg.ChatModel, cfg.EmbeddingModel, logger)
}

func newManager(cfg *config.Config, gw *ollama.Client, logger *zap.Logger, onProgress vectorstore.ProgressFunc) *vectorstore.Manager {
	return vectorstore.NewManager(docs.NewFSLoader(), gw, cfg.EmbeddingModel, logger, onProgress)
}

func printProgress(p models.Progress) {
	fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", p.Percentage, p.Message)
}

func runAsk(cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	folder := fs.String("folder", cfg.FolderPath, "folder to answer from")
	k := fs.Int("k", cfg.TopK, "number of documents to retrieve")
	web := fs.Bool("web", cfg.WebSearch.Enabled, "allow web search routing")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall run timeout")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: localrag ask [flags] \"question\"")
	}
	question := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	gw := newGateway(cfg, logger)
	mgr := newManager(cfg, gw, logger, printProgress)
	search := websearch.NewTavily(cfg.WebSearch.APIKey, cfg.WebSearch.MaxResults, logger)
	p := pipeline.New(gw, mgr, search, pipeline.ZapReporter{L: logger}, logger)

	res := p.Run(ctx, pipeline.Config{
		FolderPath:       *folder,
		TopK:             *k,
		WebSearchEnabled: *web,
		SearchAPIKey:     cfg.WebSearch.APIKey,
	}, question)
	if res.Err != "" {
		return fmt.Errorf("%s", res.Err)
	}
	fmt.Println(res.Generation)
	if len(res.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range res.Sources {
			fmt.Printf("  - %s (%s)\n", s.FileName, s.FilePath)
		}
	}
	return nil
}

func runIndex(cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	folder := fs.String("folder", cfg.FolderPath, "folder to index")
	urls := fs.String("urls", "", "comma-separated URLs to fetch and index")
	fs.Parse(args)
	if *folder == "" {
		return fmt.Errorf("no folder selected; pass --folder or set folder_path in config")
	}

	ctx := context.Background()
	gw := newGateway(cfg, logger)
	mgr := newManager(cfg, gw, logger, printProgress)

	st, err := mgr.LoadOrCreate(ctx, *folder)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := mgr.Update(ctx, *folder, st); err != nil {
		return err
	}

	urlList := cfg.SearchURLs
	if *urls != "" {
		urlList = splitComma(*urls)
	}
	if len(urlList) > 0 {
		loader := docs.NewURLLoader(logger)
		webDocs, err := loader.Load(urlList)
		if err != nil {
			return err
		}
		added, err := mgr.AddDocuments(ctx, st, webDocs)
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d chunks from %d URLs\n", added, len(urlList))
	}
	return nil
}

func runModels(cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gw := newGateway(cfg, logger)

	fmt.Println("LLM models:")
	for _, name := range gw.ListModels(ctx, llm.FilterLLM) {
		fmt.Printf("  %s\n", name)
	}
	fmt.Println("Embedding models:")
	for _, name := range gw.ListModels(ctx, llm.FilterEmbedding) {
		fmt.Printf("  %s\n", name)
	}
	return nil
}

func runServe(cfg *config.Config, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8090", "listen address")
	fs.Parse(args)

	gw := newGateway(cfg, logger)
	mgr := newManager(cfg, gw, logger, vectorstore.NopProgress)
	search := websearch.NewTavily(cfg.WebSearch.APIKey, cfg.WebSearch.MaxResults, logger)
	p := pipeline.New(gw, mgr, search, pipeline.ZapReporter{L: logger}, logger)

	api := server.New(pipeline.Config{
		FolderPath:       cfg.FolderPath,
		TopK:             cfg.TopK,
		WebSearchEnabled: cfg.WebSearch.Enabled,
		SearchAPIKey:     cfg.WebSearch.APIKey,
	}, p, mgr, gw, logger)
	return server.Run(*addr, api)
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
