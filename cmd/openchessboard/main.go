package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/TimoKropp/openchessboard/internal/board"
	"github.com/TimoKropp/openchessboard/internal/cecp"
	appcfg "github.com/TimoKropp/openchessboard/internal/config"
	"github.com/TimoKropp/openchessboard/internal/detector"
	"github.com/TimoKropp/openchessboard/internal/device"
	"github.com/TimoKropp/openchessboard/internal/diag"
	"github.com/TimoKropp/openchessboard/internal/display"
	"github.com/TimoKropp/openchessboard/internal/obslog"
	"github.com/TimoKropp/openchessboard/internal/opponent"
	"github.com/TimoKropp/openchessboard/internal/runner"
	"github.com/TimoKropp/openchessboard/internal/sensor"
	"github.com/TimoKropp/openchessboard/internal/transport"
	"github.com/TimoKropp/openchessboard/internal/uci"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("openchessboard_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) error {
	catalog, err := sensor.LoadCatalog(cfg.PinoutDir)
	if err != nil {
		return fmt.Errorf("pinout catalog: %w", err)
	}
	pins, err := catalog.Lookup(cfg.BoardVariant)
	if err != nil {
		return err
	}
	orient, err := board.OrientationByName(cfg.Orientation)
	if err != nil {
		return err
	}

	var (
		gpio sensor.GPIO
		sim  *sensor.SimBoard
	)
	if cfg.Simulate {
		sim = sensor.NewSimBoard(pins)
		sim.Load(startOccupancy(orient))
		gpio = sim
	} else {
		hw := sensor.NewLinuxGPIO(cfg.GPIOChip, cfg.ADCDevice)
		defer func() { _ = hw.Close() }()
		gpio = hw
	}

	scanner, err := sensor.NewScanner(gpio, pins, sensor.WithThreshold(cfg.SenseThreshold))
	if err != nil {
		return err
	}
	leds := display.NewFrameDriver(orient, display.NewShiftRegister(gpio, pins.LED), logger)
	dev, err := device.New(device.Options{
		Scanner:     scanner,
		Detector:    detector.New(orient, cfg.DebounceInterval, logger),
		Display:     display.Multi{leds, display.NewLogDriver(logger)},
		Orientation: orient,
		Logger:      logger,
		SyncCheck:   cfg.SyncCheck,
	})
	if err != nil {
		return err
	}

	tr, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	engine := cecp.NewEngine(dev, tr, logger)
	dev.Attach(engine)

	loop := runner.New(runner.Options{
		Transport:    tr,
		Engine:       engine,
		Device:       dev,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	if cfg.DiagAddr != "" {
		opts := diag.Options{
			Addr:        cfg.DiagAddr,
			Orientation: orient,
			Device:      dev,
			Session:     loop,
			LEDs:        leds,
			Sim:         sim,
			Logger:      logger,
		}
		if h, ok := tr.(diag.HistorySource); ok {
			opts.History = h
		}
		srv := diag.NewServer(opts)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("diag_server_failed", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown() }()
	}

	logger.Info("openchessboard_started",
		zap.String("variant", pins.Name),
		zap.String("orientation", orient.Name),
		zap.String("transport", cfg.Transport),
		zap.Bool("simulate", cfg.Simulate),
		zap.Int("threshold", scanner.Threshold()),
	)

	err = loop.Run(ctx)
	leds.Clear()
	if errors.Is(err, runner.ErrPeerGone) {
		logger.Info("openchessboard_peer_closed")
		return nil
	}
	return err
}

func openTransport(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case appcfg.TransportSerial:
		return transport.OpenSerial(cfg.SerialDevice, cfg.SerialBaud, logger)
	case appcfg.TransportWS:
		ws := transport.NewWebSocket(cfg.WSURL, cfg.WSMaxReconnect, logger)
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := ws.Connect(cctx); err != nil {
			return nil, fmt.Errorf("ws connect: %w", err)
		}
		return ws, nil
	case appcfg.TransportRedis:
		return transport.DialRedis(ctx, cfg.RedisURL, cfg.RedisChannel, logger)
	case appcfg.TransportUCI:
		eng, err := uci.Start(ctx, cfg.UCIEnginePath, uci.Options{SkillLevel: cfg.UCISkill, Elo: cfg.UCIElo}, logger)
		if err != nil {
			return nil, fmt.Errorf("uci engine: %w", err)
		}
		local, err := opponent.Start(ctx, opponent.Options{
			Engine:     eng,
			BoardWhite: cfg.BoardWhite,
			Limits:     uci.Limits{MoveTimeMillis: cfg.UCIMoveTimeMS},
			Logger:     logger,
		})
		if err != nil {
			_ = eng.Close()
			return nil, err
		}
		return local, nil
	default:
		return transport.Stdio(logger), nil
	}
}

// startOccupancy is the simulated board's initial piece setup.
func startOccupancy(o board.Orientation) board.Snapshot {
	opt, err := nchess.FEN(device.StartFEN)
	if err != nil {
		return board.Snapshot{}
	}
	return board.ExpectedOccupancy(nchess.NewGame(opt).Position().Board(), o)
}
