package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"inkforge.dev/internal/persistence/indexdb"
	"inkforge.dev/internal/persistence/objstore"
	"inkforge.dev/internal/persistence/resource"
	"inkforge.dev/internal/story/scripting"
	"inkforge.dev/internal/transport/ws"
	"inkforge.dev/internal/tuning"
)

func main() {
	var (
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (empty for defaults)")
		addr       = flag.String("addr", "", "http listen address (default: tuning server.addr)")
		storiesDir = flag.String("stories", "", "directory of compiled .res stories (default: tuning storage.stories_dir)")
		dataDir    = flag.String("data", "", "runtime data directory (default: tuning storage.data_dir)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (turns saves off)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(strings.TrimSpace(*tuningPath))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *addr != "" {
		tune.Server.Addr = *addr
	}
	if *storiesDir != "" {
		tune.Storage.StoriesDir = *storiesDir
	}
	if *dataDir != "" {
		tune.Storage.DataDir = *dataDir
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(tune.Storage.IndexDB)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	lib := resource.NewLibrary(tune.Storage.StoriesDir)
	names, err := lib.Names()
	if err != nil {
		logger.Fatalf("list stories: %v", err)
	}
	logger.Printf("serving %d stories from %s", len(names), tune.Storage.StoriesDir)

	mirror, err := buildMirror(tune.Storage.DataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirror.Close()

	var saves ws.SaveStore
	if idx != nil {
		saves = idx
	}
	cfg := ws.Config{
		MaxSessions:    tune.Server.MaxSessions,
		IdleTimeout:    tune.Server.IdleTimeout,
		ContinueBudget: tune.Server.ContinueBudget,
		MaxSteps:       tune.Engine.MaxSteps,
		MaxLines:       tune.Server.MaxLines,
		DataDir:        tune.Storage.DataDir,
		Seed:           tune.Engine.Seed,
		BindExternals:  scripting.DirBinder(tune.Storage.StoriesDir, logger),
		TokenSecret:    []byte(tune.Server.ResumeSecret),
		TokenTTL:       tune.Server.ResumeTTL,
	}
	if tune.Server.ResumeSecret == "" {
		logger.Printf("INKFORGE_RESUME_SECRET unset; sessions resume from bare save ids")
	}
	if mirror != nil {
		cfg.Mirror = mirror
	}
	play := ws.NewServer(lib, saves, cfg, logger)
	defer play.Close()

	ctx, cancel := signalContext()
	defer cancel()

	mux := newMux(play, lib, idx, mirror, logger)

	srv := &http.Server{
		Addr:              tune.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", tune.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func newMux(play *ws.Server, lib *resource.Library, idx *indexdb.SQLiteIndex, mirror *objstore.Mirror, logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP inkforge_sessions Current number of play sessions.\n")
		fmt.Fprintf(rw, "# TYPE inkforge_sessions gauge\n")
		fmt.Fprintf(rw, "inkforge_sessions %d\n", play.ActiveSessions())

		if mirror != nil {
			ms := mirror.Stats()
			fmt.Fprintf(rw, "# HELP inkforge_mirror_uploaded_total Files uploaded to the bucket.\n")
			fmt.Fprintf(rw, "# TYPE inkforge_mirror_uploaded_total counter\n")
			fmt.Fprintf(rw, "inkforge_mirror_uploaded_total %d\n", ms.UploadedTotal)
			fmt.Fprintf(rw, "# HELP inkforge_mirror_failed_total Files that could not be uploaded.\n")
			fmt.Fprintf(rw, "# TYPE inkforge_mirror_failed_total counter\n")
			fmt.Fprintf(rw, "inkforge_mirror_failed_total %d\n", ms.FailedTotal)
			fmt.Fprintf(rw, "# HELP inkforge_mirror_dropped_total Files dropped because the upload queue was full.\n")
			fmt.Fprintf(rw, "# TYPE inkforge_mirror_dropped_total counter\n")
			fmt.Fprintf(rw, "inkforge_mirror_dropped_total %d\n", ms.DroppedTotal)
		}

		if idx == nil {
			return
		}
		st := idx.Stats()
		fmt.Fprintf(rw, "# HELP inkforge_index_queue_depth Turn index queue depth.\n")
		fmt.Fprintf(rw, "# TYPE inkforge_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "inkforge_index_queue_depth %d\n", st.QueueDepth)

		fmt.Fprintf(rw, "# HELP inkforge_index_queue_capacity Turn index queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE inkforge_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "inkforge_index_queue_capacity %d\n", st.QueueCapacity)

		fmt.Fprintf(rw, "# HELP inkforge_index_dropped_turns_total Turns dropped because the index queue was full.\n")
		fmt.Fprintf(rw, "# TYPE inkforge_index_dropped_turns_total counter\n")
		fmt.Fprintf(rw, "inkforge_index_dropped_turns_total %d\n", st.DropTurnsTotal)
	})

	enableAdminHTTP := envBool("INKFORGE_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("INKFORGE_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		mux.HandleFunc("/admin/v1/stories", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			names, err := lib.Names()
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			type storyInfo struct {
				Name   string `json:"name"`
				Kind   string `json:"kind"`
				Digest string `json:"digest,omitempty"`
			}
			out := make([]storyInfo, 0, len(names))
			for _, n := range names {
				h, err := resource.ReadHeader(filepath.Join(lib.Dir, n+"."+resource.SaveExtension))
				if err != nil {
					logger.Printf("admin: %s: %v", n, err)
					continue
				}
				out = append(out, storyInfo{Name: n, Kind: h.Kind, Digest: h.Digest})
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"stories": out, "sessions": play.ActiveSessions()})
		})
	} else {
		logger.Printf("admin endpoints disabled (INKFORGE_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", play.Handler())
	return mux
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
