// Command ringfilter receives LiDAR scans, thins them by ring decimation
// and voxel-grid downsampling, and publishes the filtered cloud together
// with per-scan metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/ringfilter/internal/config"
	"github.com/banshee-data/ringfilter/internal/grpcapi"
	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/monitor"
	"github.com/banshee-data/ringfilter/internal/lidar/network"
	"github.com/banshee-data/ringfilter/internal/lidar/pipeline"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/lidardb"
	"github.com/banshee-data/ringfilter/internal/monitoring"
	"github.com/banshee-data/ringfilter/internal/serialmux"
	"github.com/banshee-data/ringfilter/internal/version"
)

var (
	listen      = flag.String("listen", ":8081", "HTTP listen address")
	sensorID    = flag.String("sensor", "lidar-0", "Sensor ID reported in metrics and status pages")
	frameID     = flag.String("frame-id", "velodyne", "Frame ID used by the synthetic source")
	udpPort     = flag.Int("udp-port", 2369, "UDP port to listen for scan chunks")
	udpAddress  = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval = flag.Int("log-interval", 2, "Packet statistics logging interval in seconds")

	configFile  = flag.String("config", "", "Path to a JSON tuning file (see "+config.DefaultConfigPath+")")
	watchConfig = flag.Bool("watch-config", false, "Reload the tuning file when it changes")

	dbFile = flag.String("db", "", "Path to the SQLite metrics database (disabled if empty)")

	forward     = flag.Bool("forward", false, "Forward filtered clouds over UDP")
	forwardAddr = flag.String("forward-addr", "localhost", "Address to forward filtered clouds to")
	forwardPort = flag.Int("forward-port", 2370, "Port to forward filtered clouds to")

	grpcListen = flag.String("grpc-listen", "", "gRPC listen address (disabled if empty)")

	pcapFile = flag.String("pcap", "", "Replay scan chunks from a pcap/pcapng file instead of listening on UDP")
	realtime = flag.Bool("pcap-realtime", false, "Pace pcap replay by capture timestamps")

	serialPort = flag.String("serial-port", "", "Serial device for the tuning console (disabled if empty)")
	serialBaud = flag.Int("serial-baud", serialmux.DefaultBaudRate, "Serial console baud rate")

	synthetic = flag.Bool("synthetic", false, "Generate synthetic scans instead of listening on UDP")

	debug = flag.Bool("debug", false, "Enable the diagnostic log stream")
	trace = flag.Bool("trace", false, "Enable the per-scan trace log stream")
)

func main() {
	flag.Parse()

	var diagW, traceW io.Writer
	if *debug || *trace {
		diagW = os.Stderr
	}
	if *trace {
		traceW = os.Stderr
	}
	monitoring.SetLogWriters(os.Stderr, diagW, traceW)
	log.Printf("starting %s", version.String())

	tuning := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*configFile); err != nil {
			log.Fatalf("load tuning config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := pipeline.NewRuntime(*sensorID, tuning.GetDepths())
	state := ringfilter.NewConfigState(tuning.FilterConfig())
	filter := ringfilter.NewFilter(state, tuning.GetRingCountMode())
	node := pipeline.NewNode(rt, filter, nil)
	ctrl := pipeline.NewController(node)
	log.Printf("ring_filter %s ring_count_mode=%s", state.Load(), filter.Mode())

	var wg sync.WaitGroup
	goRun := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Opsf("%s: %v", name, err)
			}
		}()
	}

	goRun("filter node", func() error { return node.Run(ctx) })

	scanStats := monitor.NewScanStats(monitor.DefaultHistorySize)
	statsCh, err := rt.Info.Subscribe("monitor", rt.Depths.Metrics)
	if err != nil {
		log.Fatalf("subscribe monitor: %v", err)
	}
	goRun("scan stats", func() error { scanStats.Run(ctx, statsCh); return nil })
	goRun("stats log", func() error { logSummary(ctx, scanStats, node, tuning.GetStatsInterval()); return nil })

	// Recorders outlive ctx so they can write what the node published
	// before shutdown; storeCtx ends once the topics are closed.
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()

	var routes []func(*http.ServeMux)
	var history monitor.MetricsHistory
	var db *lidardb.DB
	if *dbFile != "" {
		if db, err = lidardb.OpenDB(*dbFile, *sensorID); err != nil {
			log.Fatalf("open database: %v", err)
		}
		history = db
		configRecorder := lidardb.NewConfigRecorder(db)
		node.OnConfig(configRecorder.Observer())
		goRun("config recorder", func() error { return configRecorder.Run(storeCtx) })
		routes = append(routes, func(mux *http.ServeMux) {
			if err := db.AttachAdminRoutes(mux); err != nil {
				monitoring.Opsf("attach admin routes: %v", err)
			}
		})
		dbCh, err := rt.Info.Subscribe("lidardb", rt.Depths.Metrics)
		if err != nil {
			log.Fatalf("subscribe lidardb: %v", err)
		}
		recorder := lidardb.NewMetricsRecorder(db)
		goRun("metrics recorder", func() error { return recorder.Run(storeCtx, dbCh) })
	}

	if *forward {
		fwd, err := network.NewCloudForwarder(*forwardAddr, *forwardPort, tuning.GetForwardChunkPoints(), time.Duration(*logInterval)*time.Second)
		if err != nil {
			log.Fatalf("create forwarder: %v", err)
		}
		defer fwd.Close()
		fwdCh, err := rt.Filtered.Subscribe("forwarder", rt.Depths.Output)
		if err != nil {
			log.Fatalf("subscribe forwarder: %v", err)
		}
		goRun("forwarder", func() error { return fwd.Run(ctx, fwdCh) })
	}

	packetStats := monitor.NewPacketStats(nil)
	assembler := l2frames.NewScanAssembler(func(s l2frames.Scan) {
		if _, err := rt.Raw.Publish(s); err != nil {
			monitoring.Diagf("publish scan seq=%d: %v", s.Header.Seq, err)
		}
	})
	listener := network.NewUDPListener(network.UDPListenerConfig{
		Address:     fmt.Sprintf("%s:%d", *udpAddress, *udpPort),
		RcvBuf:      *rcvBuf,
		LogInterval: time.Duration(*logInterval) * time.Second,
		Stats:       packetStats,
		Sink:        assembler,
	})

	switch {
	case *synthetic:
		src := l2frames.NewSyntheticSource(*frameID, nil)
		goRun("synthetic source", func() error {
			return src.Run(ctx, func(s l2frames.Scan) { _, _ = rt.Raw.Publish(s) })
		})
	case *pcapFile != "":
		goRun("pcap replay", func() error {
			res, err := network.ReadPCAPFile(ctx, *pcapFile, network.PCAPOptions{UDPPort: *udpPort, Realtime: *realtime}, listener)
			completed, dropped := assembler.Stats()
			log.Printf("pcap replay finished: %d packets (%d rejected, %d skipped), %d scans assembled, %d dropped",
				res.Packets, res.Rejected, res.Skipped, completed, dropped)
			return err
		})
	default:
		goRun("UDP listener", func() error { return listener.Start(ctx) })
	}

	if *grpcListen != "" {
		gs := grpcapi.NewServer(*sensorID, ctrl, rt.Info)
		goRun("gRPC server", func() error { return gs.Start(ctx, *grpcListen) })
	}

	if *serialPort != "" {
		port, err := serialmux.OpenSerialPort(*serialPort, serialmux.PortOptions{BaudRate: *serialBaud})
		if err != nil {
			log.Fatalf("open serial console: %v", err)
		}
		console := serialmux.NewConsole(port, ctrl)
		goRun("serial console", func() error { return console.Run(ctx) })
		go func() {
			<-ctx.Done()
			// Unblocks the console's pending Read.
			console.Close()
		}()
	}

	if *watchConfig {
		if *configFile == "" {
			log.Fatalf("-watch-config requires -config")
		}
		goRun("config watcher", func() error { return config.WatchTuningFile(ctx, *configFile, ctrl) })
	}

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:           *listen,
		SensorID:          *sensorID,
		UDPPort:           *udpPort,
		ForwardingEnabled: *forward,
		ForwardAddr:       *forwardAddr,
		ForwardPort:       *forwardPort,
		PacketStats:       packetStats,
		ScanStats:         scanStats,
		Controller:        ctrl,
		History:           history,
		TopicStats:        rt.Stats,
		NodeStats:         node.Stats,
		Routes:            routes,
	})
	goRun("HTTP server", func() error { return ws.Start(ctx) })

	<-ctx.Done()
	log.Printf("shutting down")
	rt.Close()
	stopStore()
	wg.Wait()
	if db != nil {
		if err := db.Close(); err != nil {
			monitoring.Opsf("close database: %v", err)
		}
	}
	log.Printf("stopped")
}

// logSummary periodically logs the filter's running totals.
func logSummary(ctx context.Context, stats *monitor.ScanStats, node *pipeline.Node, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats.Summary()
			if s.Scans == 0 {
				continue
			}
			ns := node.Stats()
			monitoring.Logf("ring_filter: %s scans, %.0f -> %.0f points (ratio %.3f ± %.3f), rings %d -> %d, %d configs applied",
				monitor.FormatWithCommas(int64(ns.ScansProcessed)), s.MeanOriginal, s.MeanFiltered,
				s.MeanReduction, s.StdDevReduction, s.LatestRingCount, s.LatestFilteredRings, ns.ConfigsApplied)
		}
	}
}
