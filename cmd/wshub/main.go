package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/wsclient/internal/config"
	"github.com/danmuck/wsclient/internal/hub"
	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/danmuck/wsclient/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "wshub: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	observability.InitLogger("wshub", config.Level(cfg.LogLevel), os.Stderr)

	h, err := hub.New(cfg.Hub, hub.Echo)
	if err != nil {
		return err
	}
	logs.Infof("wshub: id=%s addr=%s path=%s", cfg.Hub.ID, cfg.Hub.Addr, cfg.Hub.Path)
	return h.Run(ctx)
}

// loadConfig reads -config when given; explicit flags override the file.
func loadConfig(args []string) (config.HubConfig, error) {
	fs := flag.NewFlagSet("wshub", flag.ContinueOnError)
	path := fs.String("config", "", "hub config file (.toml, .yaml)")
	addr := fs.String("addr", "", "listen address")
	wsPath := fs.String("path", "", "WebSocket route")
	id := fs.String("id", "", "hub id reported in the handshake info")
	platforms := fs.String("platforms", "", "comma-separated allowed platforms")
	level := fs.String("log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		return config.HubConfig{}, err
	}

	cfg := config.DefaultHubConfig()
	if *path != "" {
		loaded, err := config.LoadHub(*path)
		if err != nil {
			return config.HubConfig{}, err
		}
		cfg = loaded
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["addr"] {
		cfg.Hub.Addr = strings.TrimSpace(*addr)
	}
	if set["path"] {
		cfg.Hub.Path = strings.TrimSpace(*wsPath)
	}
	if set["id"] {
		cfg.Hub.ID = strings.TrimSpace(*id)
	}
	if set["platforms"] {
		cfg.Hub.AllowedPlatforms = splitList(*platforms)
	}
	if set["log-level"] {
		cfg.LogLevel = *level
	}
	if err := cfg.Validate(); err != nil {
		return config.HubConfig{}, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
