package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"inkforge.dev/internal/persistence/resource"
	"inkforge.dev/internal/story/scripting"
	"inkforge.dev/internal/transport/mcptools"
	"inkforge.dev/internal/tuning"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (empty for defaults)")
		storiesDir = flag.String("stories", "", "directory of compiled .res stories (default: tuning storage.stories_dir)")
		listen     = flag.String("listen", "", "serve streamable HTTP on this loopback address instead of stdio")
		maxSess    = flag.Int("max-sessions", 64, "max concurrent story sessions")
	)
	flag.Parse()

	// stdout carries the protocol on stdio.
	logger := log.New(os.Stderr, "[mcp] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(strings.TrimSpace(*tuningPath))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		tune = tuning.Defaults()
	}
	if *storiesDir != "" {
		tune.Storage.StoriesDir = *storiesDir
	}

	tools := mcptools.New(resource.NewLibrary(tune.Storage.StoriesDir), mcptools.Config{
		MaxSessions:   *maxSess,
		IdleTimeout:   tune.Server.IdleTimeout,
		MaxSteps:      tune.Engine.MaxSteps,
		Seed:          tune.Engine.Seed,
		BindExternals: scripting.DirBinder(tune.Storage.StoriesDir, logger),
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	if *listen == "" {
		logger.Printf("serving stories from %s on stdio", tune.Storage.StoriesDir)
		if err := tools.NewServer().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			logger.Fatalf("run: %v", err)
		}
		return
	}

	if !isLoopbackListenAddress(*listen) {
		logger.Fatalf("refusing MCP bind on non-loopback address %q", *listen)
	}
	srv := tools.NewServer()
	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	logger.Printf("listening on http://%s (stories=%s)", *listen, tune.Storage.StoriesDir)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = strings.TrimSpace(h)
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
