package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"PassengerCounter/capture"
	"PassengerCounter/config"
	"PassengerCounter/door"
	"PassengerCounter/engine"
	"PassengerCounter/gateway"
	iface "PassengerCounter/interface"
	"PassengerCounter/logger"
	"PassengerCounter/monitor"
	"PassengerCounter/pipeline"
	"PassengerCounter/session"
	"PassengerCounter/stream"
	"PassengerCounter/tracker"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Println(" HTTP    Port:", cfg.Server.HTTPPort)
	fmt.Println(" gRPC    Port:", cfg.Server.RPCPort)
	fmt.Println(" Metrics Port:", cfg.Server.MetricsPort)
	fmt.Println(" Door  Source:", cfg.Door.Source)
	fmt.Println(strings.Repeat("#", 64))

	if err := run(cfg); err != nil {
		logger.Log().Error("counter stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Log().Info("Safely exited")
	logger.Sync()
}

func run(cfg config.Config) error {
	log := logger.Named("main")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector := &engine.Detector{}
	detector.New()
	if err := detector.LoadModel(cfg.Detector.Prototxt, cfg.Detector.Model, cfg.Detector.Names, cfg.Detector.Confidence); err != nil {
		return errors.Wrap(err, "can't load detector")
	}
	defer detector.Destroy()
	log.Info("detector loaded", zap.String("model", cfg.Detector.Model))

	camera, err := capture.OpenCamera(capture.CameraConfig{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
		Rotate: cfg.Camera.Rotate,
	}, logger.Named("camera"))
	if err != nil {
		return err
	}
	defer camera.Close()

	var gw iface.Gateway
	if cfg.Gateway.BaseURL != "" {
		gw = gateway.NewFirebase(gateway.FirebaseConfig{
			BaseURL:  cfg.Gateway.BaseURL,
			Auth:     cfg.GatewayAuth(),
			HomePath: cfg.Gateway.HomePath,
			LogsPath: cfg.Gateway.LogsPath,
			Timeout:  cfg.GatewayTimeout(),
		}, logger.Named("gateway"))
	} else {
		log.Warn("no gateway baseURL configured, totals are kept in memory only")
		gw = gateway.NewMemory()
	}

	// open until the first signal says otherwise
	doorState := session.NewDoor(true)
	switch cfg.Door.Source {
	case config.DoorSourceMQTT:
		src := door.NewMQTTSource(door.MQTTConfig{
			Broker:   cfg.Door.MQTT.Broker,
			Topic:    cfg.Door.MQTT.Topic,
			ClientID: cfg.Door.MQTT.ClientID,
			Username: cfg.Door.MQTT.Username,
			Password: cfg.MQTTPassword(),
			QoS:      cfg.Door.MQTT.QoS,
			Field:    cfg.Door.Field,
		}, doorState, logger.Named("door"))
		if err := src.Start(); err != nil {
			return err
		}
		defer src.Stop()
	default:
		door.Listen(ctx, gw, cfg.Gateway.HomePath, cfg.Door.Field, doorState, logger.Named("door"))
	}

	metrics := monitor.New(logger.Named("monitor"))
	hub := stream.NewHub(logger.Named("ws"))
	recorder := iface.Recorders{metrics, hub}

	machine := session.New(doorState, gw,
		session.WithLogger(logger.Named("session")),
		session.WithTimeout(cfg.GatewayTimeout()),
		session.WithRecorder(recorder))
	metrics.DoorChanged(doorState.Open())

	latest := stream.NewLatest()
	p := pipeline.New(pipeline.Config{
		LinePos:      cfg.Tracker.LinePos,
		SkipFrames:   cfg.Detector.SkipFrames,
		Class:        cfg.Detector.Class,
		MinConf:      cfg.Detector.Confidence,
		Invert:       cfg.Tracker.Invert,
		ResetPolicy:  cfg.Tracker.ResetPolicy,
		IdleInterval: cfg.IdleInterval(),
	}, pipeline.Deps{
		Source:   camera,
		Detector: detector,
		Tracker: tracker.New(tracker.Config{
			MaxDistance: cfg.Tracker.MaxDistance,
			MaxMissing:  cfg.Tracker.MaxMissing,
			HistoryLen:  cfg.Tracker.HistoryLen,
			LinePos:     cfg.Tracker.LinePos,
			Invert:      cfg.Tracker.Invert,
		}),
		Machine:  machine,
		Renderer: capture.NewRenderer(cfg.Camera.Width, cfg.Camera.Height),
		Sink:     latest,
		Recorder: recorder,
		Log:      logger.Named("pipeline"),
	})

	health, err := monitor.StartHealth(cfg.Server.RPCPort, logger.Named("health"))
	if err != nil {
		return err
	}
	defer health.Stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		metrics.StartMon(ctx, cfg.Server.MetricsPort)
	}()
	go func() {
		defer wg.Done()
		machine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		server := stream.NewServer(latest, hub, func() any { return p.Status() }, logger.Named("http"))
		if err := server.Run(ctx, cfg.Server.HTTPPort); err != nil {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	p.Run(ctx)
	health.SetServing(false)
	wg.Wait()
	return nil
}
