// Command gosync-demo runs one sync between two local directories over an
// in-memory duplex connection, for demonstrating wiring and for manual
// end-to-end testing without a real network transport.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nbsync/gosync/cache"
	"github.com/nbsync/gosync/config"
	"github.com/nbsync/gosync/pipeline"
	"github.com/nbsync/gosync/receiver"
	"github.com/nbsync/gosync/stats"
)

func main() {
	configPath := flag.String("config", "", "optional YAML file of defaults (flags passed on the command line win)")
	src := flag.String("src", "", "source directory to sync from")
	dst := flag.String("dst", "", "destination directory to sync to")
	delete := flag.Bool("delete", false, "remove destination files no longer present in the source")
	compress := flag.Bool("compress", false, "negotiate s2 compression for full-copy transfers")
	cachePath := flag.String("cache", "", "optional path to a fast-skip checksum cache database")
	metricsAddr := flag.String("metrics-addr", "", "optional address to serve Prometheus metrics on, e.g. :9090")
	flag.Parse()

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			glog.Exitf("gosync-demo: %v", err)
		}
		applyConfigDefaults(cfg, src, dst, delete, compress, cachePath, metricsAddr)
	}

	if *src == "" || *dst == "" {
		fmt.Fprintln(os.Stderr, "gosync-demo: -src and -dst are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		glog.Warningf("gosync-demo: received %s, shutting down", sig)
		cancel()
	}()

	srcAbs, err := filepath.Abs(*src)
	if err != nil {
		glog.Exitf("gosync-demo: resolving source path: %v", err)
	}
	dstAbs, err := filepath.Abs(*dst)
	if err != nil {
		glog.Exitf("gosync-demo: resolving destination path: %v", err)
	}
	if err := os.MkdirAll(dstAbs, 0o755); err != nil {
		glog.Exitf("gosync-demo: preparing destination: %v", err)
	}

	var fastSkip *cache.Cache
	if *cachePath != "" {
		fastSkip, err = cache.Open(*cachePath)
		if err != nil {
			glog.Exitf("gosync-demo: opening cache: %v", err)
		}
		defer fastSkip.Close()
	}

	destCounters := stats.New()
	if *metricsAddr != "" {
		reg := stats.NewRegistry(destCounters)
		mux := http.NewServeMux()
		mux.Handle("/metrics", refreshingHandler{reg: reg})
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			glog.Infof("gosync-demo: serving metrics on %s/metrics", *metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Warningf("gosync-demo: metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	a, b := pipeline.DuplexPipe()
	fsys := receiver.NewLocalFS(dstAbs)

	opts := pipeline.Options{
		RootPath: srcAbs, DeleteEnabled: *delete, Compress: *compress,
		FastSkipCache: fastSkip, Counters: destCounters,
	}

	srcDone := make(chan error, 1)
	dstDone := make(chan error, 1)
	go func() {
		_, err := pipeline.RunSource(ctx, a, srcAbs, pipeline.Options{
			RootPath: srcAbs, DeleteEnabled: *delete, Compress: *compress,
		})
		srcDone <- err
	}()
	go func() {
		_, err := pipeline.RunDestination(ctx, b, fsys, opts)
		dstDone <- err
	}()

	srcErr := <-srcDone
	dstErr := <-dstDone
	if srcErr != nil {
		glog.Errorf("gosync-demo: source side: %v", srcErr)
	}
	if dstErr != nil {
		glog.Errorf("gosync-demo: destination side: %v", dstErr)
	}
	if srcErr != nil || dstErr != nil {
		os.Exit(1)
	}
	glog.Info("gosync-demo: sync complete")
}

// refreshingHandler refreshes the registry's gauges from the live counters
// immediately before every scrape, since client_golang gauges don't track
// the atomic counters directly.
type refreshingHandler struct {
	reg *stats.Registry
}

func (h refreshingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.reg.Refresh()
	promhttp.HandlerFor(h.reg.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// applyConfigDefaults fills flag values from cfg, but only for flags the
// user didn't pass explicitly on the command line — an explicit flag always
// wins over the config file.
func applyConfigDefaults(cfg *config.Demo, src, dst *string, delete, compress *bool, cachePath, metricsAddr *string) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["src"] && cfg.Source != "" {
		*src = cfg.Source
	}
	if !set["dst"] && cfg.Destination != "" {
		*dst = cfg.Destination
	}
	if !set["delete"] {
		*delete = cfg.Delete
	}
	if !set["compress"] {
		*compress = cfg.Compress
	}
	if !set["cache"] && cfg.CachePath != "" {
		*cachePath = cfg.CachePath
	}
	if !set["metrics-addr"] && cfg.MetricsAddr != "" {
		*metricsAddr = cfg.MetricsAddr
	}
}
