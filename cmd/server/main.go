package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"babel/relay/internal/api"
	"babel/relay/internal/config"
	"babel/relay/internal/health"
	"babel/relay/internal/logging"
	"babel/relay/internal/registry"
	"babel/relay/internal/signaling"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Init(cfg.Server.LogLevel)
	log.Info("config loaded", "port", cfg.Server.Port, "origins", cfg.Server.AllowedOrigins, "grpc", cfg.Admin.GRPCAddr)

	reg := registry.New()
	rt := signaling.NewRouter(reg, cfg.Signaling.SendQueue, log)
	wss := signaling.NewServer(rt, signaling.WSConfig{
		ReadLimit:      cfg.Signaling.ReadLimit,
		WriteTimeout:   cfg.Signaling.WriteTimeout,
		PingInterval:   cfg.Signaling.PingInterval,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	h := api.NewHandlers(reg, rt)
	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(log, api.NewRouter(h, wss)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	probe := health.NewProbe()
	var gsrv *grpc.Server
	if cfg.Admin.GRPCAddr != "" {
		gsrv = grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}))
		probe.Register(gsrv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if gsrv != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.Admin.GRPCAddr)
			if err != nil {
				return err
			}
			log.Info("grpc health listening", "addr", cfg.Admin.GRPCAddr)
			return gsrv.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received; draining")

		// Fail probes first, then stop taking sockets and close live ones.
		probe.Drain()
		rt.Drain()

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)

		probe.Shutdown()
		if gsrv != nil {
			gsrv.GracefulStop()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func logMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start))
	})
}
