package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/banshee-data/scanline/internal/api"
	"github.com/banshee-data/scanline/internal/config"
	"github.com/banshee-data/scanline/internal/device"
	"github.com/banshee-data/scanline/internal/scan"
	"github.com/banshee-data/scanline/internal/store"
	"github.com/banshee-data/scanline/internal/version"
)

var (
	listen     = flag.String("listen", ":8090", "Listen address")
	dbFile     = flag.String("db", "scan_data.db", "Results database path")
	configFile = flag.String("config", "", "Optional JSON config file")
	demoNoise  = flag.Float64("demo-noise", 5.0, "Demo detector noise amplitude (c/s)")
)

// demoDetector simulates a confocal fluorescence channel: a bright spot in
// the middle of the scan range plus shot noise. Real deployments swap in a
// vendor adapter implementing device.Detector.
func demoDetector(noise float64) *device.MockDetector {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &device.MockDetector{
		FrameFn: func(n, grabs int) []float64 {
			out := make([]float64, n)
			for i := range out {
				x := float64(i)/float64(n) - 0.5
				out[i] = 1000*math.Exp(-x*x/0.02) + 100 + noise*rng.NormFloat64()
			}
			return out
		},
	}
}

// demoStepper reports its commanded coordinates back as an encoder channel.
func demoStepper() *device.MockStepper {
	return &device.MockStepper{
		ExecuteLatency: 5 * time.Millisecond,
		ResultFn: func(spec device.LineSpec) []float64 {
			out := make([]float64, len(spec.Coords))
			copy(out, spec.Coords)
			return out
		},
	}
}

func main() {
	flag.Parse()

	log.Printf("scand %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.LoadScanConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	autosaveInterval, _ := cfg.AutosaveDuration()

	db, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open results database: %v", err)
	}

	autosaver := scan.NewAutosaver(scan.AutosaverConfig{
		Sink:     db,
		Interval: autosaveInterval,
	})

	engine := scan.NewEngine(scan.EngineConfig{
		Stepper: demoStepper(),
		Detectors: []scan.DetectorChannel{{
			Meta:     scan.ChannelMeta{Name: "counts", Unit: "c/s", ScaleFactor: 1, NiceName: "Fluorescence"},
			Detector: demoDetector(*demoNoise),
		}},
		StepperChannel: &scan.ChannelMeta{Name: "position", Unit: "m", ScaleFactor: 1, NiceName: "Encoder position"},
		Optimizer:      &device.MockOptimizer{Latency: 20 * time.Millisecond},
		Capacity:       *cfg.DeviceCapacity,
		Autosaver:      autosaver,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// log acquisition events for operators tailing the daemon
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, ch := engine.Events().Subscribe()
		defer engine.Events().Unsubscribe(id)
		for {
			select {
			case ev := <-ch:
				switch ev.Kind {
				case scan.EventScanError:
					log.Printf("event %s: session=%s error=%s", ev.Kind, ev.SessionID, ev.Error)
				case scan.EventLineFinished:
					log.Printf("event %s: session=%s line=%d dir=%s", ev.Kind, ev.SessionID, ev.Line, ev.Direction)
				default:
					log.Printf("event %s: session=%s", ev.Kind, ev.SessionID)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(api.NewServer(engine, db, cfg).ServeMux()),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("scand listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down: stopping any active scan")
	engine.RequestStop()
	engine.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var teardown *multierror.Error
	if err := server.Shutdown(shutdownCtx); err != nil {
		teardown = multierror.Append(teardown, fmt.Errorf("http shutdown: %w", err))
	}
	wg.Wait()
	if err := db.Close(); err != nil {
		teardown = multierror.Append(teardown, fmt.Errorf("closing results database: %w", err))
	}
	if err := teardown.ErrorOrNil(); err != nil {
		log.Printf("shutdown finished with errors: %v", err)
	}
}
