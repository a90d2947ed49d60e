package node

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

type flagSet struct {
	configPath string
	serialPort string
	baudRate   int
	filterID   string
	pin        int
	dev        bool
	logLevel   string
}

func (fs *flagSet) parse(args []string) (*pflag.FlagSet, error) {
	flags := pflag.NewFlagSet("node", pflag.ContinueOnError)
	flags.StringVarP(&fs.configPath, "config", "c", "", "Path to the node configuration file")
	flags.StringVar(&fs.serialPort, "serial", "", "Serial port in the form /dev/xxx")
	flags.IntVar(&fs.baudRate, "baud", 0, "Baud rate of the serial port")
	flags.StringVar(&fs.filterID, "filter-id", "", "Filter identifier of this node")
	flags.IntVar(&fs.pin, "pin", 0, "GPIO line of the capture trigger")
	flags.BoolVar(&fs.dev, "dev", false, "Mirror captures to the dev upload URL")
	flags.StringVar(&fs.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return flags, flags.Parse(args)
}

// config loads the file, if any, and lets explicitly set flags win.
func (fs *flagSet) config(flags *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()
	if fs.configPath != "" {
		loaded, err := LoadConfig(fs.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.Changed("serial") {
		cfg.Serial.Device = fs.serialPort
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = fs.baudRate
	}
	if flags.Changed("filter-id") {
		cfg.FilterID = fs.filterID
	}
	if flags.Changed("pin") {
		cfg.Trigger.Pin = fs.pin
	}
	if flags.Changed("dev") {
		cfg.Dev.Enabled = fs.dev
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = fs.logLevel
	}
	if os.Getenv("DEV_SCP") == "1" {
		cfg.Dev.Enabled = true
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "node",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

// Start launches the capture node
func Start() {
	var nodeFlags flagSet
	flags, err := nodeFlags.parse(os.Args[1:])
	if err == pflag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatal("Error parsing flags.", "err", err)
	}
	cfg, err := nodeFlags.config(flags)
	if err != nil {
		log.Fatal("Error loading configuration.", "err", err)
	}
	logger := newLogger(cfg.Log.Level)

	hw, err := OpenHardware(cfg, logger)
	if err != nil {
		logger.Fatal("Error opening hardware.", "err", err)
	}
	logger.Info("Opened serial port", "device", cfg.Serial.Device, "baud", cfg.Serial.Baud)

	registry := prometheus.NewRegistry()
	n, err := New(cfg, hw, registry, logger)
	if err != nil {
		hw.Channel.Close()
		logger.Fatal("Error creating node.", "err", err)
	}
	defer n.Close()

	if cfg.Metrics.Addr != metricsDisabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("Press Ctrl-C to exit program")
	if err := n.Run(ctx); err != nil {
		logger.Error("node stopped", "err", err)
	}
	logger.Info("Closing serial port")
}
