package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"arcade-server/api"
	"arcade-server/balancer"
	"arcade-server/config"
	"arcade-server/events"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

var (
	balancePort     int
	balanceBackends string
	balanceAuto     bool
	balanceMin      int
	balanceMax      int
	balanceBasePort int
	balanceLaunch   string
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Run the load balancer in front of one or more backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadBalancerConfig(configPath)
		if err != nil && !errors.Is(err, config.ErrInvalidConfig) {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Port = balancePort
		}
		if flags.Changed("backends") {
			cfg.Backends = config.SplitList(balanceBackends)
		}
		if flags.Changed("auto") {
			cfg.Auto = balanceAuto
		}
		if flags.Changed("min-backends") {
			cfg.MinBackends = balanceMin
		}
		if flags.Changed("max-backends") {
			cfg.MaxBackends = balanceMax
		}
		if flags.Changed("backend-base-port") {
			cfg.BackendBasePort = balanceBasePort
		}
		if flags.Changed("launch-cmd") {
			cfg.LaunchCmd = balanceLaunch
		}
		applyLogFlags(&cfg.Log)
		// Flags may supply what the file and environment lacked.
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runBalance(cfg)
	},
}

func init() {
	f := balanceCmd.Flags()
	f.IntVar(&balancePort, "port", 0, "Port to listen on (overrides ARCADE_LB_PORT).")
	f.StringVar(&balanceBackends, "backends", "", "Comma separated backend WebSocket URLs.")
	f.BoolVar(&balanceAuto, "auto", false, "Launch and scale local backends.")
	f.IntVar(&balanceMin, "min-backends", 0, "Backends kept running when autoscaling.")
	f.IntVar(&balanceMax, "max-backends", 0, "Upper bound on backends when autoscaling.")
	f.IntVar(&balanceBasePort, "backend-base-port", 0, "First port tried for launched backends.")
	f.StringVar(&balanceLaunch, "launch-cmd", "", "Backend launch template containing {port}.")
}

func runBalance(cfg config.BalancerConfig) error {
	logger := config.NewLogger(cfg.Log, os.Stderr)
	publisher := events.Open(cfg.NATSURL, fmt.Sprintf("arcade-balancer:%d", cfg.Port), logger)
	defer publisher.Close()

	ctx, stop := signalContext()
	defer stop()

	store := balancer.OpenRouteStore(ctx, cfg.RedisAddr, logger)
	defer store.Close()

	pool := balancer.NewPool(balancer.PoolConfig{
		Capacity:       cfg.BackendCapacity,
		SessionIdleTTL: cfg.SessionIdleTTL,
	}, store, logger)
	for _, u := range cfg.Backends {
		pool.Add(u)
	}

	var scaler *balancer.Autoscaler
	if cfg.Auto {
		launcher, err := balancer.NewExecLauncher(cfg.LaunchCmd, logger)
		if err != nil {
			return err
		}
		scaler = balancer.NewAutoscaler(balancer.AutoscaleConfig{
			Min:      cfg.MinBackends,
			Max:      cfg.MaxBackends,
			BasePort: cfg.BackendBasePort,
		}, pool, launcher, publisher, logger)
		if err := scaler.EnsureMin(ctx); err != nil {
			scaler.Stop()
			return fmt.Errorf("start backends: %w", err)
		}
		scaler.Start()
		defer scaler.Stop()
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go pool.RunIdleSweep(sweepCtx, config.IdleSweepInterval)

	proxy := balancer.NewProxy(pool, balancer.ProxyConfig{
		InputRate:    cfg.InputRate,
		InputBurst:   cfg.InputBurst,
		JoinTimeout:  cfg.JoinTimeout,
		HelloTimeout: cfg.HelloTimeout,
	}, publisher, logger)

	r := chi.NewRouter()
	r.Mount("/api", api.NewBalancerRouter(pool))
	r.Handle("/ws", proxy)
	r.Handle("/", proxy)

	logger.Info("balancer ready", "backends", pool.ActiveLen(), "auto", cfg.Auto, "capacity", cfg.BackendCapacity)
	return listenAndServe(ctx, &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}, logger, nil)
}
