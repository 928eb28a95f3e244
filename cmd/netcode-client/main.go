// Command netcode-client connects to a server using a connect token and
// writes application payloads received from it to stdout.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	_ "github.com/mattn/go-sqlite3"

	"github.com/r2northstar/netcode/internal/sessionlog"
	"github.com/r2northstar/netcode/pkg/netcode"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, its values override the same variables from the environment\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var cfg *netcode.CLIConfig
	var err error
	if pflag.NArg() == 0 {
		cfg, err = netcode.LoadCLIConfigEnv(strings.NewReader(""))
	} else {
		var f *os.File
		f, err = os.Open(pflag.Arg(0))
		if err == nil {
			defer f.Close()
			var m map[string]string
			if m, err = envparse.Parse(f); err == nil {
				var b strings.Builder
				for k, v := range m {
					fmt.Fprintf(&b, "%s=%s\n", k, v)
				}
				cfg, err = netcode.LoadCLIConfigEnv(strings.NewReader(b.String()))
			}
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(cfg.LogLevel).
		With().
		Timestamp().
		Logger()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("netcode-client exited with an error")
		os.Exit(1)
	}
}

func run(cfg *netcode.CLIConfig, logger zerolog.Logger) error {
	if cfg.TokenFile == "" {
		return fmt.Errorf("NETCODE_TOKEN_FILE is required")
	}
	tok, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return fmt.Errorf("read connect token: %w", err)
	}

	sessionID := xid.New().String()
	m := netcode.NewMetrics("netcode_client")

	var slog *sessionlog.DB
	if cfg.SessionLog != "" {
		if slog, err = sessionlog.Open(cfg.SessionLog); err != nil {
			return fmt.Errorf("open session log: %w", err)
		}
		defer slog.Close()
	}

	ccfg := netcode.NewClientConfig().
		WithLogger(logger.With().Str("session_id", sessionID).Logger()).
		WithMetrics(m).
		WithOnStateChange(func(from, to netcode.ClientState, _ any) {
			if slog != nil {
				if err := slog.RecordStateChange(sessionID, time.Now().Unix(), from.String(), to.String()); err != nil {
					logger.Warn().Err(err).Msg("failed to record state change")
				}
			}
		})

	client, err := netcode.NewWithConfig(tok, ccfg)
	if err != nil {
		return fmt.Errorf("parse connect token: %w", err)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			m.Set().WritePrometheus(w)
		})
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server exited")
			}
		}()
	}

	laddr := net.UDPAddrFromAddrPort(cfg.Listen)
	raddr := net.UDPAddrFromAddrPort(client.ServerAddr())
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}
	link := netcode.NewUDPLink(conn, client.ServerAddr(), 256)
	defer link.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.Connect()

	ticker := time.NewTicker(cfg.TickRate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			client.Disconnect()
			client.DrainSendQueue(link)
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			state := client.Tick(dt, link)
			client.DrainSendQueue(link)

			// Payload packets decoded this tick were pushed back onto
			// link by Client.recvPackets; drain them now, before the
			// next tick's raw reads reuse the same queue.
			for {
				payload, ok := link.Pop()
				if !ok {
					break
				}
				os.Stdout.Write(payload)
				if slog != nil {
					if err := slog.RecordPacket(sessionID, now.Unix(), "recv", "payload", len(payload)); err != nil {
						logger.Warn().Err(err).Msg("failed to record packet event")
					}
				}
			}

			if client.IsError() {
				return fmt.Errorf("connection failed: %s", state)
			}
		}
	}
}
