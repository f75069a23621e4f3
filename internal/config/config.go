package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	TransportStdio  = "stdio"
	TransportSerial = "serial"
	TransportWS     = "ws"
	TransportRedis  = "redis"
	TransportUCI    = "uci"
)

type AppConfig struct {
	BoardVariant     string
	Orientation      string
	SenseThreshold   int
	DebounceInterval time.Duration
	PollInterval     time.Duration
	PinoutDir        string
	SyncCheck        bool
	Simulate         bool
	GPIOChip         string
	ADCDevice        string

	Transport      string
	SerialDevice   string
	SerialBaud     int
	WSURL          string
	WSMaxReconnect int
	RedisURL       string
	RedisChannel   string

	// Local opponent (TRANSPORT=uci)
	UCIEnginePath string
	UCIMoveTimeMS int
	UCISkill      int
	UCIElo        int
	BoardWhite    bool

	DiagAddr string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BoardVariant:     "nano33iot",
		Orientation:      "plug-top",
		DebounceInterval: 100 * time.Millisecond,
		PollInterval:     20 * time.Millisecond,
		SyncCheck:        true,
		Transport:        TransportStdio,
		SerialBaud:       115200,
		WSMaxReconnect:   5,
		RedisChannel:     "openchessboard",
		UCIMoveTimeMS:    500,
		UCISkill:         20,
		BoardWhite:       true,
	}

	if v := strings.TrimSpace(os.Getenv("BOARD_VARIANT")); v != "" {
		cfg.BoardVariant = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("BOARD_ORIENTATION")); v != "" {
		cfg.Orientation = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("SENSE_THRESHOLD")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SenseThreshold = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEBOUNCE_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DebounceInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	cfg.PinoutDir = strings.TrimSpace(os.Getenv("PINOUT_DIR"))
	cfg.GPIOChip = strings.TrimSpace(os.Getenv("GPIO_CHIP"))
	cfg.ADCDevice = strings.TrimSpace(os.Getenv("ADC_DEVICE"))
	if v := strings.TrimSpace(os.Getenv("SYNC_CHECK")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SyncCheck = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("SIMULATE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Simulate = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("TRANSPORT")); v != "" {
		cfg.Transport = strings.ToLower(v)
	}
	cfg.SerialDevice = strings.TrimSpace(os.Getenv("SERIAL_DEVICE"))
	if v := strings.TrimSpace(os.Getenv("SERIAL_BAUD")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SerialBaud = n
		}
	}
	cfg.WSURL = strings.TrimSpace(os.Getenv("WS_URL"))
	if v := strings.TrimSpace(os.Getenv("WS_MAX_RECONNECT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.WSMaxReconnect = n
		}
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("REDIS_CHANNEL")); v != "" {
		cfg.RedisChannel = v
	}
	cfg.UCIEnginePath = strings.TrimSpace(os.Getenv("UCI_ENGINE_PATH"))
	if v := strings.TrimSpace(os.Getenv("UCI_MOVETIME_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.UCIMoveTimeMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("UCI_SKILL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 20 {
			cfg.UCISkill = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("UCI_ELO")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.UCIElo = n
		}
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("BOARD_COLOR"))); v != "" {
		switch v {
		case "white", "w":
			cfg.BoardWhite = true
		case "black", "b":
			cfg.BoardWhite = false
		default:
			return nil, fmt.Errorf("unknown BOARD_COLOR %q", v)
		}
	}
	cfg.DiagAddr = strings.TrimSpace(os.Getenv("DIAG_ADDR"))

	switch cfg.Transport {
	case TransportStdio:
	case TransportSerial:
		if cfg.SerialDevice == "" {
			return nil, errors.New("SERIAL_DEVICE is required for TRANSPORT=serial")
		}
	case TransportWS:
		if cfg.WSURL == "" {
			return nil, errors.New("WS_URL is required for TRANSPORT=ws")
		}
	case TransportRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for TRANSPORT=redis")
		}
	case TransportUCI:
		if cfg.UCIEnginePath == "" {
			return nil, errors.New("UCI_ENGINE_PATH is required for TRANSPORT=uci")
		}
	default:
		return nil, fmt.Errorf("unknown TRANSPORT %q", cfg.Transport)
	}

	return cfg, nil
}
