package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"autobranch/internal/browser"
	"autobranch/internal/config"
	"autobranch/internal/dom"
	mcpserver "autobranch/internal/mcp"
	"autobranch/internal/trace"
	"autobranch/internal/watch"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configPath := flag.String("config", "", "Path to the autobranch config file (overrides workspace discovery)")
	workspaceDir := flag.String("workspace-dir", "", "Directory to start workspace discovery from (defaults to cwd)")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .autobranch workspace discovery")
	initWorkspace := flag.Bool("init", false, "Create a .autobranch workspace in the current directory and exit")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	debug := flag.Bool("debug", false, "Force decision tracing on")
	flag.Parse()

	if *initWorkspace {
		dir, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to resolve cwd: %v", err)
		}
		if err := config.InitWorkspace(dir); err != nil {
			log.Fatalf("failed to init workspace: %v", err)
		}
		log.Printf("workspace created at %s", dir)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, workspace, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}
	if *debug {
		cfg.Trace.Debug = true
	}

	// Stdio MCP owns stdout and treats stderr as noise, so route logs to a
	// rotating file in that mode. Otherwise keep stderr and mirror to file.
	if cfg.Server.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		if cfg.MCP.Enable && cfg.MCP.SSEPort == 0 {
			log.SetOutput(rotating)
		} else {
			log.SetOutput(io.MultiWriter(os.Stderr, rotating))
		}
	} else if cfg.MCP.Enable && cfg.MCP.SSEPort == 0 {
		log.SetOutput(io.Discard)
	}
	if workspace != "" {
		log.Printf("using workspace %s", workspace)
	}

	sink := trace.Nop()
	if cfg.Trace.Debug {
		recorder, err := trace.NewRecorder(cfg.Trace.Dir)
		if err != nil {
			log.Printf("decision tracing disabled: %v", err)
		} else if err := recorder.Start(uuid.NewString()); err != nil {
			log.Printf("decision tracing disabled: %v", err)
		} else {
			defer recorder.Close()
			sink = trace.Logging{Next: recorder}
		}
	}

	watchCfg := watch.Config{
		MarkerID:          cfg.Dialog.MarkerID,
		MarkerText:        cfg.Dialog.MarkerText,
		RegionSelector:    cfg.Dialog.RegionSelector,
		LinkHrefSubstring: cfg.Dialog.LinkHrefSubstring,
		InputSelector:     cfg.Dialog.InputSelector,
		SettleDelay:       cfg.Dialog.GetSettleDelay(),
		RegionTimeout:     cfg.Dialog.GetRegionTimeout(),
		Prefix:            cfg.Branch.Prefix,
		Punctuation:       cfg.Branch.GetPunctuation(),
		CopyControl:       cfg.Branch.HasCopyControl(),
	}

	attach := func(ctx context.Context, page *rod.Page, meta browser.Page) (browser.Watch, error) {
		tree, err := dom.NewRodTree(page, cfg.Browser.GetPollInterval())
		if err != nil {
			return nil, err
		}
		w := watch.New(watchCfg, tree, sink)
		if err := w.Start(ctx); err != nil {
			return nil, err
		}
		return w, nil
	}

	manager := browser.NewManager(cfg.Browser, attach)
	if cfg.Browser.AutoStart {
		if err := manager.Start(ctx); err != nil {
			log.Fatalf("failed to start browser manager: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; set browser.auto_start or restart with a debugger_url")
	}
	defer func() {
		shutdownCtx := context.Background()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if !cfg.MCP.Enable {
		log.Printf("autobranch watching (no MCP surface); Ctrl-C to stop")
		<-ctx.Done()
		return
	}

	server, err := mcpserver.NewServer(cfg, manager)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting autobranch MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting autobranch MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
