package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/reportgate/internal/gateway"
	"github.com/danmuck/reportgate/internal/observability"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath, addr, adminAddr, id string

	flagSet := pflag.NewFlagSet("gatewayctl", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to gatewayctl TOML config")
	flagSet.StringVar(&addr, "addr", "", "QUIC listen address (overrides config)")
	flagSet.StringVar(&adminAddr, "admin-addr", "", "admin HTTP listen address for health, metrics and reports")
	flagSet.StringVar(&id, "id", "", "gateway id (overrides config)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := resolveConfig(configPath, addr, adminAddr, id)
	if err != nil {
		return err
	}
	observability.InitLogger("gatewayctl")
	observability.RegisterMetrics()
	return gateway.NewService(cfg, nil).Run()
}

// resolveConfig layers flags over the config file over defaults.
func resolveConfig(configPath, addr, adminAddr, id string) (gateway.ServiceConfig, error) {
	cfg := gateway.DefaultServiceConfig()
	if path := strings.TrimSpace(configPath); path != "" {
		loaded, err := loadServiceConfig(path)
		if err != nil {
			return gateway.ServiceConfig{}, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(addr); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(adminAddr); v != "" {
		cfg.Admin.ListenAddr = v
	}
	if v := strings.TrimSpace(id); v != "" {
		cfg.GatewayID = v
	}
	return cfg, nil
}
