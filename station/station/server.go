package station

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/derktes/spectral-capture-node/wire"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/tarm/serial"
)

// Station is the receiving end of the link. It owns the capture database
// and hands it out through a single-token channel.
type Station struct {
	dbLock   <-chan captureCRUD
	dbUnlock chan<- captureCRUD
	origins  []string
	logger   *log.Logger
}

func newStation(origins []string, logger *log.Logger) *Station {
	token := make(chan captureCRUD, 1)
	token <- newDatabase(logger)
	return &Station{dbLock: token, dbUnlock: token, origins: origins, logger: logger}
}

type flagSet struct {
	serialPort string
	baudRate   int
	addr       string
	imageDir   string
	request    string
	minMean    float64
	keyword    string
	origins    []string
	logLevel   string
}

func (fs *flagSet) parse(args []string) error {
	flags := pflag.NewFlagSet("station", pflag.ContinueOnError)
	flags.StringVar(&fs.serialPort, "serial", "", "Serial port in the form /dev/xxx")
	flags.IntVar(&fs.baudRate, "baud", 115200, "Baud rate of the serial port")
	flags.StringVar(&fs.addr, "addr", ":8080", "Listen address of the HTTP server")
	flags.StringVar(&fs.imageDir, "image-dir", "images", "Directory for reassembled images")
	flags.StringVar(&fs.request, "request", "always", "Artifact request policy: always, never or brightness")
	flags.Float64Var(&fs.minMean, "min-mean", 20, "Minimum mean luminance for the brightness policy")
	flags.StringVar(&fs.keyword, "keyword", wire.AckKeyword, "Keyword that requests an artifact")
	flags.StringSliceVar(&fs.origins, "origins", []string{"localhost:*", "192.168.*.*:*"}, "Allowed websocket origins")
	flags.StringVar(&fs.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if fs.serialPort == "" {
		return errors.New("serial port not specified")
	}
	if fs.keyword == "" {
		return errors.New("keyword must not be empty")
	}
	return nil
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "station",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

// serve runs the receiver and the HTTP server until ctx is cancelled or
// the link fails.
func (s *Station) serve(ctx context.Context, port io.ReadWriteCloser, rcv *receiver, srv *http.Server) error {
	received := make(chan error, 1)
	go func() { received <- rcv.run(ctx) }()

	served := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			served <- err
		}
		close(served)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-received:
	case err = <-served:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	port.Close()
	return err
}

// Start launches the ground station
func Start() {
	var stationFlags flagSet
	if err := stationFlags.parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatal("Error parsing flags.", "err", err)
	}
	logger := newLogger(stationFlags.logLevel)

	policy, err := ParsePolicy(stationFlags.request, stationFlags.minMean)
	if err != nil {
		logger.Fatal("Error parsing request policy.", "err", err)
	}
	if err := os.MkdirAll(stationFlags.imageDir, 0o755); err != nil {
		logger.Fatal("Error creating image directory.", "err", err)
	}
	if _, err := os.Stat(stationFlags.serialPort); err != nil {
		logger.Fatal("Error checking serial port.", "err", err)
	}
	port, err := serial.OpenPort(&serial.Config{Name: stationFlags.serialPort, Baud: stationFlags.baudRate})
	if err != nil {
		logger.Fatal("Error opening serial port.", "err", err)
	}
	logger.Info("Opened serial port", "device", stationFlags.serialPort, "baud", stationFlags.baudRate, "policy", policy)

	s := newStation(stationFlags.origins, logger)
	rcv := newReceiver(port, policy, stationFlags.keyword, stationFlags.imageDir, s, logger)
	srv := &http.Server{Addr: stationFlags.addr, Handler: s.routes()}
	srv.RegisterOnShutdown(func() {
		logger.Info("Shutting down server")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("Server started", "addr", stationFlags.addr)
	if err := s.serve(ctx, port, rcv, srv); err != nil {
		logger.Error("station stopped", "err", err)
	}
	logger.Info("Closing serial port")
}
