// Command sidecar wires the full Nacos FaaS sidecar together: an env-var
// driven ConfigProvider, the Target Manager event loop, the HTTP and
// gRPC front-ends, and the Refresh coordinator's two trigger paths
// (spec §4.5). The shape mirrors the teacher's cmd/server/main.go
// (env vars read with small fallback defaults, net.Listen, then serve)
// generalized to this sidecar's larger wiring surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/aws-samples/nacos-lambda-sidecar/internal/config"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/coordinator"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/devconfig"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/manager"
	"github.com/aws-samples/nacos-lambda-sidecar/internal/server"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := loadEnvConfig()
	log.Info("starting nacos sidecar",
		slog.Int("port", cfg.port),
		slog.Bool("upstream_mode", cfg.originAddress != ""),
		slog.Int("cache_size", cfg.cacheSize),
		slog.Duration("cooldown", cfg.cooldown),
		slog.Duration("delay", cfg.delay),
	)

	provider := buildProvider(cfg, log)

	if cfg.devConfigPath != "" {
		seed, err := devconfig.Load(cfg.devConfigPath)
		if err != nil {
			log.Warn("failed to load dev config, continuing without seed data", slog.Any("error", err))
		} else if cfg.originAddress == "" {
			if err := seed.Apply(cfg.configPath); err != nil {
				log.Warn("failed to apply dev config seed", slog.Any("error", err))
			}
		}
	}

	mgr := manager.New(provider, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go mgr.Run(ctx)

	httpSrv := server.NewHTTPServer(provider, mgr, log)
	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.port))
	if err != nil {
		log.Error("failed to bind http listener", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		log.Info("http front-end listening", slog.Int("port", cfg.port))
		if err := http.Serve(httpListener, httpSrv.Handler()); err != nil {
			log.Error("http server stopped", slog.Any("error", err))
		}
	}()

	grpcPort := cfg.port + 1000
	grpcSrv := server.NewGRPCServer(provider, mgr, log)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		log.Error("failed to bind grpc listener", slog.Any("error", err))
		os.Exit(1)
	}
	gs := grpc.NewServer()
	grpcSrv.Register(gs)
	go func() {
		log.Info("grpc front-end listening", slog.Int("port", grpcPort))
		if err := gs.Serve(grpcListener); err != nil {
			log.Error("grpc server stopped", slog.Any("error", err))
		}
	}()

	coord := coordinator.New(mgr, cfg.cooldown, cfg.delay, log)

	runtimeAPI := coordinator.RuntimeAPIFromEnv()
	if runtimeAPI != "" {
		ext := coordinator.NewExtension(runtimeAPI, coord, log)
		if err := ext.Register(ctx); err != nil {
			log.Warn("extension registration failed, invocation-start refresh disabled", slog.Any("error", err))
		} else {
			go func() {
				if err := ext.Run(ctx); err != nil {
					log.Warn("extension event loop stopped", slog.Any("error", err))
				}
			}()
		}

		if cfg.syncPort != 0 {
			proxy := coordinator.NewRuntimeProxy(runtimeAPI, coord, log)
			syncListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.syncPort))
			if err != nil {
				log.Warn("failed to bind runtime-proxy listener, sync path disabled", slog.Any("error", err))
			} else {
				go func() {
					log.Info("runtime-proxy listening", slog.Int("port", cfg.syncPort))
					if err := http.Serve(syncListener, proxy.Handler()); err != nil {
						log.Error("runtime-proxy stopped", slog.Any("error", err))
					}
				}()
			}
		}
	} else {
		log.Info("AWS_LAMBDA_RUNTIME_API not set, refresh triggers must be driven externally")
	}

	<-ctx.Done()
	log.Info("shutting down")
}

type envConfig struct {
	port          int
	configPath    string
	originAddress string
	cacheSize     int
	cooldown      time.Duration
	delay         time.Duration
	syncPort      int
	devConfigPath string
}

// loadEnvConfig reads spec §6's env vars. COOLDOWN_MS and SYNC_COOLDOWN_MS
// both name a cooldown, but spec §4.5 requires both trigger paths to
// share one Coordinator and therefore one cooldown clock: COOLDOWN_MS
// wins when set, and SYNC_COOLDOWN_MS is used only as a fallback for
// deployments that set it without ever setting COOLDOWN_MS.
func loadEnvConfig() envConfig {
	cooldown := parseDurationEnv("COOLDOWN_MS", 0)
	if cooldown == 0 {
		cooldown = parseDurationEnv("SYNC_COOLDOWN_MS", 0)
	}
	return envConfig{
		port:          parseIntEnv("PORT", 8848),
		configPath:    envOr("CONFIG_PATH", "/mnt/efs/nacos/"),
		originAddress: os.Getenv("ORIGIN_ADDRESS"),
		cacheSize:     parseIntEnv("CACHE_SIZE", 64),
		cooldown:      cooldown,
		delay:         parseDurationEnv("DELAY_MS", 10*time.Millisecond),
		syncPort:      parseIntEnv("SYNC_PORT", 0),
		devConfigPath: os.Getenv("DEV_CONFIG_PATH"),
	}
}

func buildProvider(cfg envConfig, log *slog.Logger) config.Provider {
	if cfg.originAddress != "" {
		return config.NewUpstreamProvider(cfg.originAddress, cfg.cacheSize, log)
	}
	return config.NewFSProvider(cfg.configPath, cfg.cacheSize, log)
}

// envOr returns the env var's value, or def if it is unset or empty.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseIntEnv parses an integer env var, silently falling back to def on
// a missing or invalid value (spec §6: "Invalid values fall back to
// defaults silently").
func parseIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// parseDurationEnv parses a millisecond count env var into a
// time.Duration, falling back to def on a missing or invalid value.
func parseDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
