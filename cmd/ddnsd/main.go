package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ddnsd/api"
	"ddnsd/config"
	"ddnsd/detector"
	"ddnsd/log"
	"ddnsd/metrics"
	"ddnsd/scheduler"
	"ddnsd/store"
	"ddnsd/vault"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath = flag.StringP("config", "c", "config.toml", "path to config file")
	debug      = flag.Bool("debug", false, "enable debug output")
	help       = flag.BoolP("help", "h", false, "Print help message")
)

var buildDate string

const shutdownTimeout = 5 * time.Second

func init() {
	flag.Parse()
	if *help {
		fmt.Println(flag.CommandLine.FlagUsages())
		os.Exit(0)
	}
}

func getInitLogger() context.Context {
	var err error
	var logger *zap.Logger

	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}

	if err != nil {
		fmt.Printf("Failed creating logger: %v\n", err)
		os.Exit(1)
	}

	return log.WithLogger(context.Background(), logger)
}

func getLogger(ctx context.Context, conf *config.Config) context.Context {
	var logOption zap.Config
	if *debug {
		logOption = zap.NewDevelopmentConfig()
	} else {
		logOption = zap.NewProductionConfig()
	}

	if conf.Log.Level != nil {
		logOption.Level.SetLevel(*conf.Log.Level)
	}

	if conf.Log.Encoding != nil {
		logOption.Encoding = *conf.Log.Encoding
	}

	if conf.Log.InfoPath != nil {
		logOption.OutputPaths = *conf.Log.InfoPath
	}

	if conf.Log.ErrorPath != nil {
		logOption.ErrorOutputPaths = *conf.Log.ErrorPath
	}

	if conf.Service.Name != "" {
		logOption.InitialFields = map[string]interface{}{
			"node": conf.Service.Name,
		}
	}

	logger, err := logOption.Build()
	if err != nil {
		log.S(ctx).Fatalw("cannot build real logger", zap.Error(err))
	}

	return log.WithLogger(context.Background(), logger)
}

func domainsOf(conf *config.Config) []store.Domain {
	out := make([]store.Domain, 0, len(conf.Domain))
	for _, d := range conf.Domain {
		out = append(out, store.FromConfigDomain(d))
	}
	return out
}

func serve(ctx context.Context, name string, srv *http.Server) {
	log.S(ctx).Infow("server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.S(ctx).Fatalw("listen failed", "server", name, zap.Error(err))
	}
}

func main() {
	ctx := getInitLogger()

	if buildDate != "" {
		log.S(ctx).Infow("ddnsd starting", "variant", "release", "build_date", buildDate)
	} else {
		log.S(ctx).Infow("ddnsd starting", "variant", "debug")
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		log.S(ctx).Fatalw("failed loading config", zap.Error(err))
	}

	ctx = getLogger(ctx, conf)
	defer log.L(ctx).Sync()

	metrics.InitMetrics()

	det, err := detector.FromConfig(ctx, conf.Detector)
	if err != nil {
		log.S(ctx).Fatalw("cannot init detector", zap.Error(err))
	}

	st, err := store.FromConfig(ctx, conf)
	if err != nil {
		log.S(ctx).Fatalw("cannot init store", zap.Error(err))
	}

	creds, err := vault.New(ctx, conf.Credential)
	if err != nil {
		log.S(ctx).Fatalw("cannot init vault", zap.Error(err))
	}

	sch := scheduler.New(st, det, scheduler.NewUpdater(creds))

	// Reload rereads domains and credentials. Detector and listener settings
	// apply on restart only.
	reload := func(ctx context.Context) error {
		ctx = log.SWith(ctx, log.Stage("reload"))

		next, err := config.Load(*configPath)
		if err != nil {
			log.S(ctx).Errorw("failed loading config", zap.Error(err))
			return err
		}
		if err := creds.Load(ctx, next.Credential); err != nil {
			return err
		}
		if err := st.Sync(ctx, domainsOf(next)); err != nil {
			return err
		}

		if !sch.Status().Running {
			return nil
		}
		return sch.Reload(ctx)
	}

	if conf.Service.ShouldAutostart() {
		if err := sch.Start(ctx); err != nil {
			log.S(ctx).Fatalw("cannot start scheduler", zap.Error(err))
		}
	}

	control := &http.Server{
		Addr:              conf.Service.ControlListen,
		Handler:           api.New(ctx, sch, det, st, api.WithReload(reload)).Control(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := &http.Server{
		Addr:              conf.Service.HealthListen,
		Handler:           api.Health(func() bool { return sch.Status().Running }),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go serve(ctx, "control", control)
	go serve(ctx, "health", health)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		if sig == syscall.SIGHUP {
			if err := reload(ctx); err != nil {
				log.S(ctx).Errorw("reload failed", zap.Error(err))
			}
			continue
		}

		log.S(ctx).Infow("shutting down", "signal", sig.String())
		break
	}

	sch.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	for name, srv := range map[string]*http.Server{"control": control, "health": health} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.S(ctx).Errorw("server unable to shutdown", "server", name, zap.Error(err))
		}
	}
	log.S(ctx).Infow("servers stopped gracefully")
}
