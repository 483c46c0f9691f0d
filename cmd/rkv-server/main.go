// rkv-server listens for RESP connections and serves an in-memory
// key-value store with TTLs and sorted sets.
package main

import (
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/pat"
	"github.com/peterbourgon/g2s"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rkvlabs/rkv/internal/dispatch"
	"github.com/rkvlabs/rkv/internal/engine"
	"github.com/rkvlabs/rkv/internal/instrumentation"
	"github.com/rkvlabs/rkv/internal/instrumentation/prometheus"
	"github.com/rkvlabs/rkv/internal/instrumentation/statsd"
	"github.com/rkvlabs/rkv/internal/replaylog"
	"github.com/rkvlabs/rkv/internal/server"
)

func main() {
	var (
		addr                = flag.String("addr", ":6970", "TCP listen address")
		debugAddress        = flag.String("debug.address", "", "debug/metrics HTTP address (blank to disable)")
		logPath             = flag.String("log.path", "log.txt", "append-log file path")
		logReplay           = flag.Bool("log.replay", true, "replay the append-log on startup")
		connMax             = flag.Int("conn.max", 0, "max concurrent connections, 0 = unbounded")
		purgeInterval       = flag.Duration("purge.interval", 100*time.Millisecond, "per-connection purger gate")
		logRate             = flag.Int("log.rate", 1000, "max append-log writes per second")
		statsdAddress       = flag.String("statsd.address", "", "statsd address (blank to disable)")
		statsdSampleRate    = flag.Float64("statsd.sample.rate", 0.1, "statsd sample rate for normal metrics")
		statsdBucketPrefix  = flag.String("statsd.bucket.prefix", "rkv.", "statsd bucket key prefix, including trailing period")
		prometheusNamespace = flag.String("prometheus.namespace", "rkv", "Prometheus key namespace")
	)
	flag.Parse()
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Lmicroseconds)
	log.Printf("GOMAXPROCS %d", runtime.GOMAXPROCS(-1))

	instr := buildInstrumentation(*statsdAddress, float32(*statsdSampleRate), *statsdBucketPrefix, *prometheusNamespace, *debugAddress)

	eng := engine.New()
	logWriter := replaylog.New(*logPath, eng, int64(*logRate), instr)

	if *logReplay {
		n, err := logWriter.Replay(0)
		if err != nil {
			log.Printf("replay %s: %v", *logPath, err)
		} else {
			log.Printf("replayed %d command(s) from %s", n, *logPath)
		}
	}

	d := dispatch.New(eng, logWriter)
	srv := server.New(eng, d, server.Config{
		Addr:            *addr,
		MaxConnections:  *connMax,
		PurgeInterval:   *purgeInterval,
		PurgeRatePerSec: 1000,
		Instrumentation: instr,
	})

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdown
		log.Print("shutting down")
		srv.Shutdown()
	}()

	if err := srv.Serve(); err != nil {
		log.Fatal(err)
	}
}

// buildInstrumentation wires statsd and/or Prometheus instrumentation
// per the teacher's roshi-server convention, fanning both out through
// MultiInstrumentation when both are configured. Statsd is only added
// when an address is given: this vendored g2s predates the g2s.Noop
// helper roshi-server/main.go relies on, so "disabled" here means
// "not in the fan-out" rather than a no-op Statter.
func buildInstrumentation(statsdAddress string, sampleRate float32, bucketPrefix, prometheusNamespace, debugAddress string) instrumentation.Instrumentation {
	var targets []instrumentation.Instrumentation

	if statsdAddress != "" {
		statter, err := g2s.Dial("udp", statsdAddress)
		if err != nil {
			log.Fatal(err)
		}
		targets = append(targets, statsd.New(statter, sampleRate, bucketPrefix))
	}

	promInstr := prometheus.New(prometheusNamespace, 10*time.Second)
	targets = append(targets, promInstr)

	if debugAddress != "" {
		mux := pat.New()
		mux.Get("/metrics", promhttp.Handler())
		mux.Add("GET", "/debug/pprof", http.DefaultServeMux)
		mux.Add("GET", "/debug/pprof/{name}", http.DefaultServeMux)
		go func() {
			log.Printf("debug listening on %s", debugAddress)
			log.Print(http.ListenAndServe(debugAddress, mux))
		}()
	}

	switch len(targets) {
	case 0:
		return instrumentation.NopInstrumentation{}
	case 1:
		return targets[0]
	default:
		return instrumentation.NewMultiInstrumentation(targets...)
	}
}
