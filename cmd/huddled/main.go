package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/huddlechat/huddle/pkg/datastore"
	"github.com/huddlechat/huddle/pkg/logging"
	"github.com/huddlechat/huddle/pkg/server"
	"github.com/huddlechat/huddle/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (flags override it)")

	cfg := server.DefaultConfig()
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP bind address for /ws and /healthz")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for /metrics (empty to disable)")
	flag.StringVar(&cfg.RoomsFile, "rooms-file", "", "YAML file defining rooms to create on startup")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("huddled", version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
		// Re-apply flags so explicit flags win over the file.
		flag.Parse()
	}

	slog.Info("starting huddled", "version", version.String())

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	srv := server.New(cfg, st)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
