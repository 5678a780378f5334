package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/reportgate/internal/config"
	"github.com/danmuck/reportgate/internal/observability"
	"github.com/danmuck/reportgate/internal/protocol"
	"github.com/danmuck/reportgate/internal/protocol/session"
	"github.com/danmuck/reportgate/internal/tools"
	"github.com/danmuck/reportgate/internal/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	observability.InitLogger("reportctl")
	code, err := run(ctx, os.Args[1:], os.Stdout, tools.ExecRunner{})
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
	}
	os.Exit(code)
}

type options struct {
	configPath string
	initConfig string
	addr       string
	channel    string
	callID     string
	workerID   string
	image      string
	command    string
	timeout    time.Duration
	exitCode   int64
	stdout     string
	stderr     string
	trust      string
	pin        string
	caFile     string
}

// run returns the process exit status: 0 for a non-error acknowledgement,
// 1 for everything else.
func run(ctx context.Context, args []string, out io.Writer, runner tools.CommandRunner) (int, error) {
	var opts options
	flagSet := pflag.NewFlagSet("reportctl", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to reportctl TOML config")
	flagSet.StringVar(&opts.initConfig, "init-config", "", "write a starter reportctl TOML config to this path and exit")
	flagSet.StringVar(&opts.addr, "addr", "", "gateway address host:port")
	flagSet.StringVar(&opts.channel, "channel", "", "channel id source:target (default worker:<worker-id>)")
	flagSet.StringVar(&opts.callID, "call-id", "", "call id (default generated)")
	flagSet.StringVar(&opts.workerID, "worker-id", "", "worker id")
	flagSet.StringVar(&opts.image, "image", "", "container image the work ran in")
	flagSet.StringVar(&opts.command, "command", "", "command line being reported (default: the command after --)")
	flagSet.DurationVar(&opts.timeout, "timeout", 0, "submission deadline (default from config, 10s)")
	flagSet.Int64Var(&opts.exitCode, "exit-code", 0, "exit code to report when no command is run")
	flagSet.StringVar(&opts.stdout, "stdout", "", "stdout to report when no command is run")
	flagSet.StringVar(&opts.stderr, "stderr", "", "stderr to report when no command is run")
	flagSet.StringVar(&opts.trust, "trust", "", "trust policy: chain, pinned, tofu or insecure")
	flagSet.StringVar(&opts.pin, "pin", "", "pinned gateway certificate sha-256 (implies --trust pinned)")
	flagSet.StringVar(&opts.caFile, "ca-file", "", "CA bundle for chain trust")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, nil
		}
		return 1, err
	}

	if path := strings.TrimSpace(opts.initConfig); path != "" {
		if err := config.WriteTemplate(path, "worker", false); err != nil {
			return 1, err
		}
		fmt.Fprintf(out, "wrote %s\n", path)
		return 0, nil
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		return 1, err
	}
	event, err := buildEvent(ctx, cfg, opts, flagSet.Args(), runner)
	if err != nil {
		return 1, err
	}

	client, err := worker.NewClient(worker.ClientConfig{Session: cfg.Session})
	if err != nil {
		return 1, err
	}
	resp, err := client.Submit(ctx, cfg.GatewayAddr, event, cfg.Timeout)
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(out, resp.Content)
	if resp.IsError {
		return 1, fmt.Errorf("gateway rejected report: %s", resp.Content)
	}
	return 0, nil
}

// resolveConfig layers flags over the config file over defaults.
func resolveConfig(opts options) (config.WorkerConfig, error) {
	cfg := config.DefaultWorkerConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadWorkerConfig(path)
		if err != nil {
			return config.WorkerConfig{}, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(opts.addr); v != "" {
		cfg.GatewayAddr = v
	}
	if v := strings.TrimSpace(opts.workerID); v != "" {
		cfg.WorkerID = v
	}
	if v := strings.TrimSpace(opts.image); v != "" {
		cfg.Image = v
	}
	if v := strings.TrimSpace(opts.channel); v != "" {
		ch, err := protocol.ParseChannelID(v)
		if err != nil {
			return config.WorkerConfig{}, err
		}
		cfg.Channel = ch
	}
	if opts.timeout != 0 {
		cfg.Timeout = opts.timeout
	}
	if v := strings.TrimSpace(opts.pin); v != "" {
		cfg.Session.TLS.Trust = session.TrustPinned
		cfg.Session.TLS.PinnedFingerprint = v
	}
	if v := strings.TrimSpace(opts.trust); v != "" {
		cfg.Session.TLS.Trust = session.TrustPolicy(v)
	}
	if v := strings.TrimSpace(opts.caFile); v != "" {
		cfg.Session.TLS.CAFile = v
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := config.ValidateWorkerConfig(cfg); err != nil {
		return config.WorkerConfig{}, err
	}
	return cfg, nil
}

// buildEvent captures the worker output, either by running rest or from
// flags, and attaches the report to a fresh event.
func buildEvent(ctx context.Context, cfg config.WorkerConfig, opts options, rest []string, runner tools.CommandRunner) (protocol.ChannelEvent, error) {
	command := opts.command
	var output protocol.WorkerOutput
	if len(rest) > 0 {
		if command == "" {
			command = strings.Join(rest, " ")
		}
		var err error
		output, err = runner.Run(ctx, rest[0], rest[1:]...)
		if err != nil {
			// The failed run is still reported; its exit code says what happened.
			log.Warn().Str("command", command).Int64("exit_code", output.ExitCode).Err(err).Msg("reportctl.buildEvent command failed")
		}
	} else {
		output = tools.NewOutput(opts.stdout, opts.stderr, opts.exitCode)
	}

	callID := strings.TrimSpace(opts.callID)
	if callID == "" {
		callID = "call-" + uuid.NewString()
	}
	report, err := protocol.NewWorkerReport(callID, cfg.WorkerID, cfg.Image, command, output)
	if err != nil {
		return protocol.ChannelEvent{}, err
	}
	channel, err := cfg.ChannelFor(cfg.WorkerID)
	if err != nil {
		return protocol.ChannelEvent{}, err
	}
	event := protocol.NewChannelEvent(channel, protocol.GenerateSessionID(), "worker report "+callID)
	if err := event.AttachReport(report); err != nil {
		return protocol.ChannelEvent{}, err
	}
	return event, nil
}
