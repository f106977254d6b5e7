package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"yave.dev/internal/config"
	persistlog "yave.dev/internal/persistence/log"
	"yave.dev/internal/server"
	"yave.dev/internal/transport/udp"
	"yave.dev/internal/transport/ws"
	"yave.dev/internal/world/material"
)

func main() {
	var (
		addr          = flag.String("addr", ":25000", "udp listen address")
		httpAddr      = flag.String("http", ":25080", "http listen address for health, metrics and websocket (empty to disable)")
		tuningPath    = flag.String("tuning", "", "path to tuning.yaml (default: built-in tuning)")
		materialsPath = flag.String("materials", "", "path to materials.json (default: built-in materials)")
		dataDir       = flag.String("data", "./data", "runtime data directory (empty disables tick log and index)")
		logLevel      = flag.String("log_level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatalf("log_level: %v", err)
	}
	logger.SetLevel(lvl)

	reg := material.Default()
	if p := strings.TrimSpace(*materialsPath); p != "" {
		if reg, err = material.Load(p); err != nil {
			logger.Fatalf("load materials: %v", err)
		}
	}

	tune := config.Defaults()
	if p := strings.TrimSpace(*tuningPath); p != "" {
		if tune, err = config.Load(p); err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	cfg, err := tune.ServerConfig(reg)
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	w, err := server.New(cfg, logger.WithField("component", "world"))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	var idx runtimeIndex
	if *dataDir != "" {
		// Optional: read-model index backend (does not affect the tick digest).
		idx, err = openRuntimeIndex(*dataDir, logger.WithField("component", "index"))
		if err != nil {
			logger.Fatalf("open index backend: %v", err)
		}
		if idx != nil {
			defer idx.Close()
			if err := idx.UpsertCatalogs(reg, tune); err != nil {
				logger.WithError(err).Warn("index catalogs")
			}
		}
		tickLog := persistlog.NewTickLogger(*dataDir)
		defer tickLog.Close()
		w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	}

	ln, err := udp.Listen(*addr, w, logger.WithField("component", "udp"))
	if err != nil {
		logger.Fatalf("udp listen: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error { return ln.Serve(ctx) })

	if *httpAddr != "" {
		srv := &http.Server{
			Addr:              *httpAddr,
			Handler:           newMux(w, ln, idx, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Infof("http listening on %s", *httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			return srv.Shutdown(ctx2)
		})
	}

	logger.WithField("materials", reg.Len()).WithField("tick_rate_hz", cfg.TickRateHz).WithField("view_radius", cfg.ViewRadius).Info("server started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("server: %v", err)
	}
	logger.Info("server stopped")
}

func newMux(w *server.World, ln *udp.Listener, idx runtimeIndex, logger *logrus.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w.Metrics(), ln.Stats(), idx)
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Tick    uint64         `json:"tick"`
			Metrics server.Metrics `json:"metrics"`
		}{
			Tick:    w.CurrentTick(),
			Metrics: w.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	if envBool("YAVE_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Debug("pprof endpoints disabled (YAVE_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger.WithField("component", "ws")).Handler())
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
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiTickLogger struct {
	a server.TickLogger
	b server.TickLogger
}

func (m multiTickLogger) WriteTick(entry server.TickLogEntry) error {
	var errs []error
	if m.a != nil {
		errs = append(errs, m.a.WriteTick(entry))
	}
	if m.b != nil {
		errs = append(errs, m.b.WriteTick(entry))
	}
	return errors.Join(errs...)
}
