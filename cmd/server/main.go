package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	persistlog "swarmsim/internal/persistence/log"
	"swarmsim/internal/persistence/statecache"
	"swarmsim/internal/sim/fleet"
	"swarmsim/internal/sim/tuning"
	"swarmsim/internal/transport/bus"
	"swarmsim/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		floorID    = flag.String("floor", "floor_1", "floor id")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (the tick log is still written)")

		busBackend = flag.String("bus", "", "publish transitions to a broker: mqtt or kafka (empty to disable)")
		busBrokers = flag.String("bus_brokers", "localhost:1883", "comma-separated broker host:port list")
		busTopic   = flag.String("bus_topic", "swarmsim", "topic prefix")
		redisAddr  = flag.String("redis", "", "mirror the latest frame into redis at host:port (empty to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	runID := uuid.NewString()

	floorDir := filepath.Join(*dataDir, "floors", *floorID)
	_ = os.MkdirAll(floorDir, 0o755)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	w, err := fleet.New(tune.FleetConfig(*floorID))
	if err != nil {
		logger.Fatalf("floor: %v", err)
	}
	w.SetLogger(log.New(os.Stdout, "[floor] ", log.LstdFlags|log.Lmicroseconds))

	// Optional read model (does not affect sim determinism).
	idx, err := openRuntimeIndex(floorDir, runID, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordRun(*floorID, tune); err != nil {
			logger.Printf("index backend: record run: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Every run starts at tick 0, so each gets its own event log.
	tickLog := persistlog.NewTickLogger(filepath.Join(floorDir, "runs", runID))
	defer tickLog.Close()
	sinks := multiTickLogger{tickLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}

	var events *bus.Sink
	if b := strings.TrimSpace(*busBackend); b != "" {
		client := bus.NewClient(bus.Config{
			Backend:     b,
			Brokers:     splitList(*busBrokers),
			ClientID:    "swarmsim-" + runID,
			TopicPrefix: *busTopic,
			FloorID:     *floorID,
		})
		if err := client.Connect(); err != nil {
			logger.Fatalf("bus: %v", err)
		}
		defer client.Close()
		events = bus.NewSink(client, runID, *floorID, client.Topic("transitions"), 0, logger)
		defer events.Close()
		sinks = append(sinks, events)
		logger.Printf("bus: publishing to %s", client.Topic("transitions"))
	}
	w.SetTickLogger(sinks)

	if addr := strings.TrimSpace(*redisAddr); addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: addr})
		defer rc.Close()
		pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
		err := rc.Ping(pctx).Err()
		pcancel()
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		go statecache.Mirror(ctx, w, statecache.NewRedisStore(rc, *floorID), 250*time.Millisecond, logger)
	}

	// Sinks are closed by the defers above, so main must not return while a
	// step can still write to them.
	floorDone := make(chan struct{})
	go func() {
		defer close(floorDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("floor stopped: %v", err)
		}
	}()

	handler := newRouter(routerConfig{
		Floor:   w,
		RunID:   runID,
		Index:   idx,
		Bus:     events,
		Logger:  logger,
		Admin:   envBool("SWARM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		Pprof:   envBool("SWARM_ENABLE_PPROF_HTTP", false),
		Observe: observer.NewServer(w, runID, logger),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s floor=%s run=%s robots=%d", *addr, *floorID, runID, w.Config().RobotCount)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-floorDone
	logger.Printf("floor stopped at tick=%d", w.CurrentTick())
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// multiTickLogger fans one entry out to every sink. Sinks never fail the tick.
type multiTickLogger []fleet.TickLogger

func (m multiTickLogger) WriteTick(entry fleet.TickLogEntry) error {
	for _, l := range m {
		_ = l.WriteTick(entry)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
