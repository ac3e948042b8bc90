// Package gateway parses gateway command flags and composes the service
// entrypoint.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/frontdeskhq/frontdesk/internal/platform/cmd"
	server "github.com/frontdeskhq/frontdesk/internal/services/gateway/app"
	"github.com/frontdeskhq/frontdesk/internal/services/gateway/auth"
)

// Config holds gateway command configuration.
type Config struct {
	HTTPAddr               string        `env:"FRONTDESK_GATEWAY_HTTP_ADDR"          envDefault:":8080"`
	GRPCAddr               string        `env:"FRONTDESK_GATEWAY_GRPC_ADDR"`
	DBPath                 string        `env:"FRONTDESK_GATEWAY_DB_PATH"            envDefault:"data/gateway.db"`
	AccountsBaseURL        string        `env:"FRONTDESK_ACCOUNTS_BASE_URL"          envDefault:"http://localhost:8081"`
	AccountsResourceSecret string        `env:"FRONTDESK_ACCOUNTS_RESOURCE_SECRET"`
	BroadcastSecret        string        `env:"FRONTDESK_GATEWAY_BROADCAST_SECRET"`
	StaleChannelTTL        time.Duration `env:"FRONTDESK_GATEWAY_STALE_TTL"          envDefault:"30m"`
	StaleSweepInterval     time.Duration `env:"FRONTDESK_GATEWAY_SWEEP_INTERVAL"     envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "gateway HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gateway gRPC health listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "channel registry sqlite path")
	fs.StringVar(&cfg.AccountsBaseURL, "accounts-base-url", cfg.AccountsBaseURL, "accounts service base URL")
	fs.StringVar(&cfg.AccountsResourceSecret, "accounts-resource-secret", cfg.AccountsResourceSecret, "accounts lookup resource secret")
	fs.StringVar(&cfg.BroadcastSecret, "broadcast-secret", cfg.BroadcastSecret, "operator broadcast endpoint secret")
	fs.DurationVar(&cfg.StaleChannelTTL, "stale-ttl", cfg.StaleChannelTTL, "age after which unseen channels are swept")
	fs.DurationVar(&cfg.StaleSweepInterval, "sweep-interval", cfg.StaleSweepInterval, "interval between stale channel sweeps")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the gateway app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, func(context.Context) error {
		verifierCfg, err := auth.LoadConfigFromEnv(nil)
		if err != nil {
			return fmt.Errorf("load channel token config: %w", err)
		}
		verifier, err := auth.NewVerifier(verifierCfg)
		if err != nil {
			return fmt.Errorf("init channel token verifier: %w", err)
		}

		if err := server.Run(ctx, server.Config{
			HTTPAddr:               cfg.HTTPAddr,
			GRPCAddr:               cfg.GRPCAddr,
			DBPath:                 cfg.DBPath,
			AccountsBaseURL:        cfg.AccountsBaseURL,
			AccountsResourceSecret: cfg.AccountsResourceSecret,
			BroadcastSecret:        cfg.BroadcastSecret,
			Verifier:               verifier,
			StaleChannelTTL:        cfg.StaleChannelTTL,
			StaleSweepInterval:     cfg.StaleSweepInterval,
		}); err != nil {
			return fmt.Errorf("serve gateway: %w", err)
		}
		return nil
	})
}
