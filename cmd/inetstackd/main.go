// Command inetstackd runs the userspace network stack as a standalone
// daemon: it loads configuration, opens a packet I/O runtime (a raw
// AF_PACKET socket against a real interface, or an in-memory loopback
// pair for smoke-testing), builds the Engine, and drives its poll loop
// until asked to stop. The admin HTTP surface and connection-history
// store are both optional and wired in only when configured.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroosing/inetstack/internal/adminapi"
	"github.com/jroosing/inetstack/internal/adminapi/handlers"
	"github.com/jroosing/inetstack/internal/arp"
	"github.com/jroosing/inetstack/internal/clock"
	"github.com/jroosing/inetstack/internal/config"
	"github.com/jroosing/inetstack/internal/engine"
	"github.com/jroosing/inetstack/internal/logging"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/runtime"
	"github.com/jroosing/inetstack/internal/runtime/rawsocket"
	"github.com/jroosing/inetstack/internal/store"
	"github.com/jroosing/inetstack/internal/tcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	iface      string
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.iface, "interface", "", "Override raw_socket.interface")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flags.iface != "" {
		cfg.RawSocket.Interface = flags.iface
	}
	if flags.debug {
		cfg.Log.Level = "DEBUG"
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Log.Level,
		Structured:       cfg.Log.Structured,
		StructuredFormat: cfg.Log.StructuredFormat,
		IncludePID:       cfg.Log.IncludePID,
		ExtraFields:      cfg.Log.ExtraFields,
	})
	logger.Info("inetstackd starting",
		"runtime", cfg.Runtime,
		"local_ipv4", cfg.LocalIPv4,
		"local_mac", cfg.LocalMAC,
	)

	engineCfg, err := buildEngineConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build engine config: %w", err)
	}

	nrt, closeRuntime, err := openRuntime(cfg)
	if err != nil {
		return fmt.Errorf("failed to open network runtime: %w", err)
	}
	defer closeRuntime()

	var historyDB *store.DB
	if cfg.Store.Path != "" {
		historyDB, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open connection history store: %w", err)
		}
		defer historyDB.Close()
	}

	eng := engine.New(nrt, clock.RealClock{}, engineCfg)
	if historyDB != nil {
		eng.AttachHistoryStore(historyDB)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var adminSrv *adminapi.Server
	if cfg.Admin.Enabled {
		var hist handlers.HistoryProvider
		if historyDB != nil {
			hist = historyDB
		}
		adminSrv = adminapi.New(cfg, logger, eng, hist)
		logger.Info("admin API starting", "addr", adminSrv.Addr())
		go func() {
			serveErr := adminSrv.ListenAndServe()
			if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
				return
			}
			logger.Error("admin API server error", "err", serveErr)
			cancel()
		}()
	}

	runPollLoop(ctx, eng, logger)

	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminSrv.Shutdown(shutdownCtx)
		shutdownCancel()
		logger.Info("admin API stopped")
	}

	logger.Info("inetstackd stopped")
	return nil
}

// runPollLoop drives PollBgWork until ctx is cancelled. Every tick is
// followed by a short sleep so the daemon doesn't spin a CPU core.
func runPollLoop(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	const idleBackoff = time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		eng.PollBgWork()
		time.Sleep(idleBackoff)
	}
}

func buildEngineConfig(cfg *config.Config, logger *slog.Logger) (engine.Config, error) {
	localIP, err := netip.ParseAddr(cfg.LocalIPv4)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid local_ipv4 %q: %w", cfg.LocalIPv4, err)
	}
	localMAC, err := nettypes.ParseMAC(cfg.LocalMAC)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid local_mac %q: %w", cfg.LocalMAC, err)
	}
	prefix, err := netip.ParsePrefix(cfg.IPv4Prefix)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid ipv4_prefix %q: %w", cfg.IPv4Prefix, err)
	}
	var gateway netip.Addr
	if cfg.DefaultGateway != "" {
		gateway, err = netip.ParseAddr(cfg.DefaultGateway)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid default_gateway %q: %w", cfg.DefaultGateway, err)
		}
	}

	retryInterval, err := time.ParseDuration(cfg.ARPRequestTimeout)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid arp_request_timeout %q: %w", cfg.ARPRequestTimeout, err)
	}
	cacheTTL, err := time.ParseDuration(cfg.ARPCacheTTL)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid arp_cache_ttl %q: %w", cfg.ARPCacheTTL, err)
	}

	return engine.Config{
		LocalIP:  localIP,
		LocalMAC: localMAC,
		Prefix:   prefix,
		Gateway:  gateway,
		ARP: arp.Config{
			TTL:           cacheTTL,
			RetryInterval: retryInterval,
			MaxRetries:    cfg.ARPRetryCount,
		},
		TCPDefaults: tcp.Options{
			MSS:                uint16(cfg.TCPMSS),
			WindowScaleEnabled: cfg.TCPWindowScale,
			TimestampsEnabled:  cfg.TCPTimestamps,
			SACKEnabled:        cfg.TCPSACK,
			RxBufferSize:       cfg.TCPRxBufferSize,
			TxBufferSize:       cfg.TCPTxBufferSize,
			NoDelay:            cfg.TCPNoDelay,
		},
		Logger:  logger,
		RNGSeed: []byte(cfg.RNGSeed),
	}, nil
}

// openRuntime selects the packet I/O transport per cfg.Runtime and
// returns a cleanup func.
func openRuntime(cfg *config.Config) (runtime.NetworkRuntime, func(), error) {
	switch cfg.Runtime {
	case "raw-socket":
		rt, err := rawsocket.Open(cfg.RawSocket.Interface, 1500)
		if err != nil {
			return nil, nil, err
		}
		return rt, func() { _ = rt.Close() }, nil
	case "virtual-test":
		a, b := runtime.NewVirtualPair(1500)
		stop := make(chan struct{})
		go drainLoopback(b, stop)
		return a, func() { close(stop); _ = a.Close(); _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
}

// drainLoopback discards whatever the loopback peer receives so
// virtual-test mode never leaks memory into an unread inbox.
func drainLoopback(b *runtime.VirtualRuntime, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		b.Receive(64)
		time.Sleep(time.Millisecond)
	}
}
