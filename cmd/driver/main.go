package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warpcomdev/ts413camera/internal/driver/api"
	"github.com/warpcomdev/ts413camera/internal/driver/camera"
	"github.com/warpcomdev/ts413camera/internal/driver/events"
	"github.com/warpcomdev/ts413camera/internal/driver/native"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
	"github.com/warpcomdev/ts413camera/internal/driver/simulator"
)

var (
	startMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "start",
		Help: "Start timestamp of the app (unix)",
	})

	serviceStartMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "service_start",
		Help: "Start timestamp of the service (unix)",
	})

	serviceStopMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "service_stop",
		Help: "Stop timestamp of the service (unix)",
	})

	statusMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "status",
		Help: "Service status",
	})

	infoMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "info",
			Help: "Service info",
		},
		[]string{
			"start",
			"library",
			"simulate",
		},
	)
)

type program struct {
	Logger     servicelog.Logger
	Config     Config
	ConfigPath string
	Driver     native.Driver
	Session    *camera.Session
	Window     *events.Window
	Frames     chan camera.FrameInfo
	Cancel     func()
}

func (p *program) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	p.Logger.Info("start signal received")
	if p.Cancel != nil {
		if err := p.Stop(s); err != nil {
			return err
		}
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	p.Cancel = cancelFunc
	serviceStartMetric.SetToCurrentTime()
	statusMetric.Set(1)
	go func() {
		defer serviceStopMetric.SetToCurrentTime()
		defer statusMetric.Set(0)
		p.Run(ctx)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	// Stop should not block. Return with a few seconds.
	p.Logger.Info("stop signal received")
	if p.Cancel != nil {
		cancel := p.Cancel
		p.Cancel = nil
		// Close the service in the background
		wait := make(chan struct{}, 0)
		go func() {
			defer close(wait)
			cancel()
		}()
		// Wait up to two seconds for cancellation
		select {
		case <-wait:
			break
		case <-time.After(2 * time.Second):
			break
		}
	}
	return nil
}

func (p *program) Run(ctx context.Context) {
	logger := p.Logger
	dispatcher := events.NewDispatcher(logger.With(servicelog.String("component", "events")), p.Session, events.DefaultQueueSize)
	if sim, ok := p.Driver.(*simulator.Camera); ok {
		sim.Attach(dispatcher)
	}
	if p.Window != nil {
		p.Window.Attach(dispatcher)
	}
	mux := &http.ServeMux{}
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", http.DefaultServeMux)
	mux.Handle("/api/", http.StripPrefix("/api", api.New(logger.With(servicelog.String("component", "api")), p.Session, dispatcher)))
	var handler http.Handler = mux
	if p.Config.Debug {
		handler = debugHandler{logger: logger, handler: mux}
	}
	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", p.Config.Port),
		Handler:        handler,
		ReadTimeout:    time.Duration(p.Config.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(p.Config.WriteTimeoutSeconds) * time.Second,
		MaxHeaderBytes: p.Config.MaxHeaderBytes,
	}
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		if err := p.Session.Disconnect(); err != nil {
			logger.Error("failed to disconnect camera", servicelog.Error(err))
		}
	}()
	// Launch the HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer srv.Close()
			<-ctx.Done()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", servicelog.Error(err))
		}
	}()
	// deliver hardware signals to the session
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	// keep the camera connected
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitorCamera(ctx, logger, p.Config, p.Session)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Session.Monitor(ctx, logger, time.Duration(p.Config.MonitorSeconds)*time.Second)
	}()
	// save published frames
	wg.Add(1)
	go func() {
		defer wg.Done()
		exportFrames(ctx, logger, p.Config, p.Session, p.Frames)
	}()
	// apply config changes
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchConfig(ctx, logger, p.ConfigPath, p.Session)
	}()
}

func openDriver(logger servicelog.Logger, config Config) (native.Driver, error) {
	if config.Simulate {
		logger.Info("using simulated camera")
		return simulator.New(logger.With(servicelog.String("component", "simulator")), time.Now().UnixNano()), nil
	}
	return native.Open(config.LibraryPath)
}

func main() {
	svcConfig := &service.Config{
		Name:        "TS413CameraDriver",
		DisplayName: "TS413 camera driver",
		Description: "Control a TS413 / Mallincam Universe CCD camera over HTTP",
	}

	var configPath string
	flag.StringVar(&configPath, "c", "C:\\ts413camera\\config.toml", "path to config file")
	flag.Parse()

	// Load config
	config, err := LoadConfig(configPath)
	if err != nil {
		panic(err)
	}
	args := flag.Args()
	if len(args) > 0 && args[0] == "conf" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(config); err != nil {
			log.Fatalf("failed to print config: %v", err)
		}
		return
	}

	prg := &program{
		Config:     config,
		ConfigPath: configPath,
		Frames:     make(chan camera.FrameInfo, 4),
	}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		log.Fatalf("new service failed: %v", err)
	}
	if len(args) > 0 {
		if err := service.Control(s, args[0]); err != nil {
			log.Fatalf("service control failed: %v", err)
		}
		return
	}

	svcLogger, err := s.Logger(nil)
	if err != nil {
		log.Fatalf("can't initialize service logger: %v", err)
	}
	logger, err := servicelog.New(svcLogger, config.LogFolder, config.LogFileSizeMb, config.LogFileNum, config.Debug)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	prg.Logger = logger
	logger.Info("config", servicelog.Any("config", config))

	driver, err := openDriver(logger, config)
	if err != nil {
		logger.Fatal("failed to open camera library", servicelog.String("library", config.LibraryPath), servicelog.Error(err))
		return
	}
	defer driver.Close()
	prg.Driver = driver

	options := config.Options()
	if !config.Simulate {
		window, err := events.NewWindow(logger.With(servicelog.String("component", "window")))
		if err != nil {
			logger.Warn("no host window, signals only arrive through the api", servicelog.Error(err))
		} else {
			defer window.Close()
			options.Receive = window.Handle()
			prg.Window = window
		}
	}
	options.OnFrame = func(info camera.FrameInfo) {
		select {
		case prg.Frames <- info:
		default:
			logger.Warn("frame export queue full", servicelog.String("id", info.ID.String()))
		}
	}
	prg.Session = camera.New(logger.With(servicelog.String("component", "camera")), driver, options)

	// Register startup metrics
	startTime := time.Now()
	startMetric.Set(float64(startTime.Unix()))
	infoMetric.WithLabelValues(
		startTime.Format(time.RFC3339),
		config.LibraryPath,
		fmt.Sprintf("%t", config.Simulate),
	).Set(1)

	logger.Info("starting service manager")
	err = s.Run()
	if err != nil {
		logger.Error("run failed", servicelog.Error(err))
	}
}
