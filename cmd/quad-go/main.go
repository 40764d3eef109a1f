// quad-go is the quadruped control host. It runs the fixed-period
// sense-plan-actuate loop against the servo bus, and serves the
// operator web interface and metrics.
//
// Usage:
//
//	quad-go -config ~/quad.cfg [options]
//
// Options:
//
//	-config string    Robot configuration file (required)
//	-device string    Serial servo bus device (e.g. /dev/ttyACM0)
//	-tcp string       TCP servo bus address (mock-servo)
//	-loopback         Use the in-process simulated bus
//	-period float     Cycle period in seconds (default 0.01)
//	-web string       Web control address (default ":4910")
//	-metrics string   Metrics address ("" disables)
//	-rt int           SCHED_FIFO priority (0 disables)
//	-logfile string   Log file path (default: stderr)
//
// Examples:
//
//	# Run against hardware
//	quad-go -config ~/quad.cfg -device /dev/ttyACM0 -rt 50
//
//	# Run against the simulator
//	quad-go -config ~/quad.cfg -loopback
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mjmech-go-migration/pkg/config"
	"mjmech-go-migration/pkg/log"
	"mjmech-go-migration/pkg/metrics"
	"mjmech-go-migration/pkg/moteus"
	"mjmech-go-migration/pkg/quad"
	"mjmech-go-migration/pkg/reactor"
	"mjmech-go-migration/pkg/realtime"
	"mjmech-go-migration/pkg/safety"
	"mjmech-go-migration/pkg/telemetry"
	"mjmech-go-migration/pkg/webcontrol"
)

func main() {
	configFile := flag.String("config", "", "Robot configuration file (required)")
	device := flag.String("device", "", "Serial servo bus device")
	baud := flag.Int("baud", 3000000, "Serial baud rate")
	tcpAddr := flag.String("tcp", "", "TCP servo bus address (mock-servo)")
	loopback := flag.Bool("loopback", false, "Use the in-process simulated bus")
	period := flag.Float64("period", 0.01, "Cycle period in seconds")
	webAddr := flag.String("web", ":4910", "Web control address (\"\" disables)")
	metricsAddr := flag.String("metrics", "", "Metrics address (\"\" disables)")
	rtPriority := flag.Int("rt", 0, "SCHED_FIFO priority (0 disables)")
	lockMem := flag.Bool("lockmem", false, "Lock process memory")
	watchdogS := flag.Float64("watchdog", 1.0, "Watchdog timeout in seconds (0 disables)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")

	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.GetLogger("quad-go")
	if *logFile != "" {
		fileLogger, writer, err := log.NewFileLogger("quad-go", log.RotationConfig{
			Filename: *logFile,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer writer.Close()
		log.SetDefaultLogger(fileLogger)
		logger = fileLogger
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}
	logger.Info("config: %s (%d joints, %d legs)",
		*configFile, len(cfg.Joints), len(cfg.Legs))

	if err := realtime.Setup(realtime.Config{
		Priority:   *rtPriority,
		LockMemory: *lockMem,
	}); err != nil {
		// Degraded latency, not a failure.
		logger.Warn("realtime setup: %v", err)
	}

	client, err := openClient(cfg, *device, *baud, *tcpAddr, *loopback)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	defer client.Close()

	r := reactor.New()
	registry := telemetry.NewRegistry()
	metricsRegistry := metrics.NewRegistry()

	engine := quad.New(r, cfg, quad.Parameters{PeriodS: *period}, registry)
	engine.SetMetrics(metrics.NewCycleMetrics(metricsRegistry))
	engine.SetOnFatal(func(err error) {
		logger.Error("transport failure: %v", err)
		os.Exit(1)
	})

	// Transport capability: bus power telemetry.
	if client.Capabilities()&moteus.CapPowerTelemetry != 0 {
		if reporter, ok := client.(moteus.PowerReporter); ok {
			logger.Warn("registering power")
			powerSignal := registry.Register("power")
			registry.Register("qc_status").Subscribe(func(interface{}) {
				state := reporter.PowerState()
				powerSignal.Emit(&state)
			})
		}
	}

	var watchdog *safety.Watchdog
	if *watchdogS > 0 {
		watchdog = safety.New(time.Duration(*watchdogS*float64(time.Second)),
			engine.RequestFault)
		engine.SetOnCycle(watchdog.Heartbeat)
	}

	if *webAddr != "" {
		web := webcontrol.New(webcontrol.Config{
			Addr:  *webAddr,
			Robot: engine,
		})
		go func() {
			if err := web.Start(); err != nil {
				logger.Warn("web control: %v", err)
			}
		}()
		defer web.Stop()
	}

	if *metricsAddr != "" {
		go func() {
			if err := metrics.Serve(*metricsAddr, metricsRegistry); err != nil {
				logger.Warn("metrics: %v", err)
			}
		}()
	}

	engine.SetClient(client)
	engine.Start()
	r.Run()
	if watchdog != nil {
		watchdog.Start()
		defer watchdog.Stop()
	}

	logger.Info("quad-go ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	engine.Stop()
	r.End()
	r.Wait()
}

func openClient(cfg *config.Config, device string, baud int, tcpAddr string,
	loopback bool) (moteus.Client, error) {

	switch {
	case loopback:
		ids := make([]int, 0, len(cfg.Joints))
		for _, j := range cfg.Joints {
			ids = append(ids, j.ID)
		}
		return moteus.NewLoopbackClient(ids), nil
	case tcpAddr != "":
		return moteus.NewTCPClient(tcpAddr, 0)
	case device != "":
		return moteus.NewSerialClient(moteus.SerialConfig{
			Device:   device,
			BaudRate: baud,
		})
	default:
		return nil, fmt.Errorf("one of -device, -tcp, or -loopback is required")
	}
}
