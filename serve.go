package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"arcade-server/api"
	"arcade-server/config"
	"arcade-server/events"
	"arcade-server/server"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a backend hosting game rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServerConfig(configPath)
		if err != nil && !errors.Is(err, config.ErrInvalidConfig) {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		applyLogFlags(&cfg.Log)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides ARCADE_PORT).")
}

func runServe(cfg config.ServerConfig) error {
	logger := config.NewLogger(cfg.Log, os.Stderr)
	publisher := events.Open(cfg.NATSURL, fmt.Sprintf("arcade-server:%d", cfg.Port), logger)
	defer publisher.Close()

	mcfg := server.DefaultManagerConfig()
	mcfg.IdleGrace = cfg.RoomIdleGrace
	mcfg.MaxIdle = cfg.RoomMaxIdle
	rooms := server.NewRoomManager(mcfg, publisher, logger)
	rooms.Start()
	defer rooms.Stop()

	s := server.NewInstanceServer(rooms, server.Options{
		InputRate:   cfg.InputRate,
		InputBurst:  cfg.InputBurst,
		JoinTimeout: cfg.JoinTimeout,
	}, logger)

	apiRouter, metrics := api.NewServerRouter(rooms, s, cfg.Capacity)

	r := chi.NewRouter()
	r.Mount("/api", apiRouter)
	r.HandleFunc("/ws", s.HandleConnections)
	r.HandleFunc("/", s.HandleConnections) // Balancers dial the bare address

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	ctx, stop := signalContext()
	defer stop()
	return listenAndServe(ctx, srv, logger, func() {
		metrics.SetWebSocketStatus(api.WebSocketStopping)
		s.Close()
	})
}

func applyLogFlags(lc *config.LogConfig) {
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFormat != "" {
		lc.Format = logFormat
	}
}
