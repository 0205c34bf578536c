package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port            string
		LogLevel        string
		AllowedOrigins  []string
		ShutdownTimeout time.Duration
	}
	Signaling struct {
		ReadLimit    int64
		SendQueue    int
		WriteTimeout time.Duration
		PingInterval time.Duration
	}
	Admin struct {
		GRPCAddr string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// An empty ADMIN_GRPC_ADDR disables the gRPC listener.
	v.AllowEmptyEnv(true)

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("signaling.read_limit", 64*1024)
	v.SetDefault("signaling.send_queue", 256)
	v.SetDefault("signaling.write_timeout", "10s")
	v.SetDefault("signaling.ping_interval", "25s")

	v.SetDefault("admin.grpc_addr", ":9090")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	v.BindEnv("server.shutdown_timeout", "SHUTDOWN_TIMEOUT")

	v.BindEnv("signaling.read_limit", "SIGNALING_READ_LIMIT")
	v.BindEnv("signaling.send_queue", "SIGNALING_SEND_QUEUE")
	v.BindEnv("signaling.write_timeout", "SIGNALING_WRITE_TIMEOUT")
	v.BindEnv("signaling.ping_interval", "SIGNALING_PING_INTERVAL")

	v.BindEnv("admin.grpc_addr", "ADMIN_GRPC_ADDR")

	var c Config
	c.Server.Port = v.GetString("server.port")
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"))
	c.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")

	c.Signaling.ReadLimit = v.GetInt64("signaling.read_limit")
	c.Signaling.SendQueue = v.GetInt("signaling.send_queue")
	c.Signaling.WriteTimeout = v.GetDuration("signaling.write_timeout")
	c.Signaling.PingInterval = v.GetDuration("signaling.ping_interval")

	c.Admin.GRPCAddr = v.GetString("admin.grpc_addr")

	return c
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
