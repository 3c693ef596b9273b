package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cesnet/ipfixprobe-go/pkg/api"
	"github.com/cesnet/ipfixprobe-go/pkg/cache"
	"github.com/cesnet/ipfixprobe-go/pkg/capture"
	"github.com/cesnet/ipfixprobe-go/pkg/config"
	"github.com/cesnet/ipfixprobe-go/pkg/flow"
	"github.com/cesnet/ipfixprobe-go/pkg/framed"
	"github.com/cesnet/ipfixprobe-go/pkg/ipfix"
	"github.com/cesnet/ipfixprobe-go/pkg/logging"
	"github.com/cesnet/ipfixprobe-go/pkg/plugin"
	"github.com/cesnet/ipfixprobe-go/pkg/ring"
	"github.com/cesnet/ipfixprobe-go/pkg/shutdown"
	"github.com/cesnet/ipfixprobe-go/pkg/workers"
)

// shutdownGracePeriod bounds how long the API server is given to drain
// in-flight requests once a signal arrives, mirroring cmd/goProbe/
// goProbe.go's constant of the same name.
const shutdownGracePeriod = 30 * time.Second

// exportFlushInterval is the export worker's periodic flush tick, one
// second, so buffered records don't wait indefinitely for a template
// buffer to fill.
const exportFlushInterval = time.Second

// cacheLineSize is the flow cache's associativity (its "line"); the
// original fixes this at compile time and CLI flags never expose it,
// so it's a constant here too.
const cacheLineSize = 4

// cacheShadowSlots is the number of shadow slots the cache reserves past
// its main table for mid-eviction staging (cache.Config.QueueCapacity);
// unrelated to -q/--iqueue's capture packet queue depth and, like
// cacheLineSize, not something the original exposes as a flag.
const cacheShadowSlots = 64

// interfacePipeline bundles one -I interface's (or the single -r file's)
// capture and storage worker pair, plus the handles pkg/api needs to
// report on them.
type interfacePipeline struct {
	capture *workers.CaptureWorker
	storage *workers.StorageWorker
}

func run(ctx context.Context, cfg *config.Config, args *cliArgs) error {
	logger := logging.FromContext(ctx)

	registry, err := buildRegistry(cfg.Plugins)
	if err != nil {
		return fmt.Errorf("building plugin registry: %w", err)
	}

	exporter := ipfix.New(ipfix.Config{
		Host:             cfg.Exporter.Host,
		Port:             cfg.Exporter.Port,
		UDP:              cfg.Exporter.UDP,
		MTU:              cfg.Exporter.MTU,
		ODID:             uint32(cfg.Exporter.LinkBitField),
		FPS:              cfg.Exporter.FPS,
		DirBitField:      cfg.Exporter.DirBitField,
		ReconnectTimeout: cfg.Exporter.ReconnectTimeout,
	})
	flowRing := ring.New[*flow.Flow](cfg.Exporter.QueueDepth)

	sinks, closeSinks, err := buildFramedSinks(args.FramedOutput)
	if err != nil {
		return fmt.Errorf("opening framed output: %w", err)
	}
	defer closeSinks()

	openers, ifaceNames, err := captureSources(cfg)
	if err != nil {
		return fmt.Errorf("opening capture sources: %w", err)
	}

	h := shutdown.New()

	pipelines := make([]*interfacePipeline, 0, len(openers))
	captureStatusers := make([]api.CaptureStatuser, 0, len(openers))
	cacheStatsers := make([]api.CacheStatser, 0, len(openers))

	for i, open := range openers {
		ifaceCtx := logging.WithInterface(ctx, ifaceNames[i])

		packetRing := ring.New[*capture.Packet](cfg.Capture.QueueDepth)
		capt := capture.New(logging.WithWorker(ifaceCtx, "capture"), open, packetRing)

		c := cache.New(cache.Config{
			Size:            1 << cfg.Cache.SizeExponent,
			LineSize:        cacheLineSize,
			QueueCapacity:   cacheShadowSlots,
			ActiveTimeout:   cfg.Cache.ActiveTimeout,
			InactiveTimeout: cfg.Cache.InactiveTimeout,
		}, registry.Copy(), flowRing)

		cw := workers.NewCaptureWorker(capt, h)
		sw := workers.NewStorageWorker(logging.WithWorker(ifaceCtx, "storage"), packetRing, c, h)

		pipelines = append(pipelines, &interfacePipeline{capture: cw, storage: sw})
		captureStatusers = append(captureStatusers, capt)
		cacheStatsers = append(cacheStatsers, sw)
	}

	exportCtx := logging.WithWorker(logging.WithExporter(ctx, cfg.Exporter.Host+":"+cfg.Exporter.Port), "export")
	ew := workers.NewExportWorker(exportCtx, flowRing, exporter, h, exportFlushInterval, sinks...)

	var apiServer *api.Server
	if cfg.API != nil {
		addr := cfg.API.Host + ":" + cfg.API.Port
		opts := []api.Option{}
		if cfg.API.Metrics {
			opts = append(opts, api.WithMetrics("ipfixprobe", "capture"))
		}
		apiServer, err = api.New(addr, captureStatusers, cacheStatsers, ew, opts...)
		if err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		errCh := make(chan error, 1)
		apiServer.Run(errCh)
		logger.With("addr", addr).Info("started API server")
		go func() {
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("API server error: %v", err)
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	var wg sync.WaitGroup
	var captureWG, storageWG sync.WaitGroup
	for _, p := range pipelines {
		captureWG.Add(1)
		storageWG.Add(1)
		go func(p *interfacePipeline) {
			defer captureWG.Done()
			p.capture.Run()
		}(p)
		go func(p *interfacePipeline) {
			defer storageWG.Done()
			p.storage.Run()
		}(p)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ew.Run()
	}()

	<-sigCtx.Done()
	stop()
	logger.Info("shutting down gracefully")

	// Three stages in order, each draining its downstream queue before
	// the next is signalled.
	h.StopInput()
	captureWG.Wait()
	h.StopStorage()
	storageWG.Wait()
	h.StopExport()
	wg.Wait()

	if apiServer != nil {
		fallbackCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := apiServer.Shutdown(fallbackCtx); err != nil {
			logger.Errorf("forced shut down of API server: %v", err)
		}
	}

	logger.Info("graceful shut down completed")
	return nil
}

// captureSources builds one Opener per configured interface, or a
// single file-replay Opener, for the mutually exclusive -I/-r options,
// alongside a name per Opener (the interface name, or the file path)
// used to tag that pipeline's logging context.
func captureSources(cfg *config.Config) ([]capture.Opener, []string, error) {
	srcCfg := capture.Config{
		SnapshotLength: cfg.Capture.SnapshotLength,
		Promiscuous:    cfg.Capture.Promiscuous,
		Filter:         cfg.Capture.Filter,
		PacketCount:    cfg.Capture.Count,
	}

	if cfg.Capture.File != "" {
		path := cfg.Capture.File
		return []capture.Opener{
				func() (capture.Source, error) { return capture.NewFileSource(path, srcCfg) },
			}, []string{path},
			nil
	}

	if len(cfg.Capture.Interfaces) == 0 {
		return nil, nil, fmt.Errorf("no interface or capture file configured")
	}
	openers := make([]capture.Opener, 0, len(cfg.Capture.Interfaces))
	for _, iface := range cfg.Capture.Interfaces {
		iface := iface
		openers = append(openers, func() (capture.Source, error) {
			return capture.NewLiveSource(iface, srcCfg)
		})
	}
	return openers, cfg.Capture.Interfaces, nil
}

// dualVersionSink dispatches a flow to the framed.Router matching its IP
// version, working around pkg/framed.Channel pinning one IP version per
// channel (unlike original_source/unirecexporter.cpp's single
// polymorphic IP field): two sibling output files, one per IP version,
// avoid ambiguity from multiplexing both schemas over one byte stream.
type dualVersionSink struct {
	v4, v6 workers.FlowSink
}

func (d *dualVersionSink) Write(f *flow.Flow) error {
	if f.IPVersion == 6 {
		return d.v6.Write(f)
	}
	return d.v4.Write(f)
}

// buildFramedSinks opens path.v4/path.v6 (if path is non-empty) and
// returns the resulting FlowSink plus a cleanup closing both files.
// Returns a no-op cleanup and no sinks when path is empty.
func buildFramedSinks(path string) ([]workers.FlowSink, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}

	fv4, err := os.Create(path + ".v4")
	if err != nil {
		return nil, nil, err
	}
	fv6, err := os.Create(path + ".v6")
	if err != nil {
		fv4.Close()
		return nil, nil, err
	}

	routerFor := func(w *os.File, ipVersion uint8) workers.FlowSink {
		router := framed.NewRouter(framed.NewBasicChannel(w, ipVersion))
		for _, tag := range []plugin.Tag{plugin.TagPstats, plugin.TagBstats} {
			router.AddChannel(framed.NewChannel(w, ipVersion, tag))
		}
		return router
	}

	sink := &dualVersionSink{v4: routerFor(fv4, 4), v6: routerFor(fv6, 6)}
	cleanup := func() {
		fv4.Close()
		fv6.Close()
	}
	return []workers.FlowSink{sink}, cleanup, nil
}
