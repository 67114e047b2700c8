package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pbrpc/config"
	"pbrpc/echo"
	"pbrpc/logger"
	"pbrpc/server"
)

const shutdownTimeout = 5 * time.Second

var serveFlags struct {
	port         int
	ioThreads    int
	errorReplies bool
	metricsAddr  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a server hosting demo.EchoService",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(globalFlags.ConfigPath)
		if err != nil {
			return err
		}

		// flags win over the file
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Port = serveFlags.port
		}
		if flags.Changed("io-threads") {
			cfg.IOThreads = serveFlags.ioThreads
		}
		if flags.Changed("error-replies") {
			cfg.ErrorReplies = serveFlags.errorReplies
		}
		if flags.Changed("metrics-addr") {
			cfg.MetricsAddr = serveFlags.metricsAddr
		}
		if globalFlags.LogLevel != "" {
			cfg.Log.Level = globalFlags.LogLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.IntVarP(&serveFlags.port, "port", "p", 12345, "listen port")
	f.IntVar(&serveFlags.ioThreads, "io-threads", 1, "number of event loops")
	f.BoolVar(&serveFlags.errorReplies, "error-replies", false, "answer failed requests with error envelopes")
	f.StringVar(&serveFlags.metricsAddr, "metrics-addr", "", "expose prometheus metrics on this address, e.g. :9090")
}

func serve(cfg *config.ServerConfig) error {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	logger.SetLogger(log)
	clog := logger.Module("serve")

	b, err := server.FromConfig(cfg)
	if err != nil {
		return err
	}
	b.WithLogger(log)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		b.WithMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				clog.Error("metrics server failed", zap.Error(err))
			}
		}()
		clog.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	svr, err := b.Build()
	if err != nil {
		return err
	}
	if err := svr.RegisterService(echo.Desc(&echo.Service{})); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		clog.Info("shutting down", zap.Stringer("signal", sig))
		if err := svr.Shutdown(shutdownTimeout); err != nil {
			clog.Warn("shutdown incomplete", zap.Error(err))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
	}()

	return svr.Run()
}
