// Package main provides a minimal CLI entry point demonstrating how to
// drive the socks5 package: load configuration, bind a listener, and
// dispatch accepted connections to a handler goroutine per connection.
// Dialing the requested destination and relaying payload bytes is left
// to the caller; this binary only shows where that decision point sits.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/casept/socks5go/internal/config"
	"github.com/casept/socks5go/internal/logging"
	"github.com/casept/socks5go/internal/recovery"
	"github.com/casept/socks5go/internal/socks5"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "socks5d",
		Short:   "A standalone SOCKS5 proxy server",
		Long:    "socks5d runs a SOCKS5 (RFC 1928/1929) proxy server using the socks5 package.",
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			scfg, err := cfg.ToSOCKS5()
			if err != nil {
				return fmt.Errorf("resolving server config: %w", err)
			}
			scfg.Logger = logger

			server, err := socks5.NewServer(scfg)
			if err != nil {
				return fmt.Errorf("starting server: %w", err)
			}
			defer server.Close()

			logger.Info("server listening", logging.KeyComponent, "socks5d", "address", server.Addr().String())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, shutting down", "signal", sig.String())
				server.Close()
			}()

			for {
				pc, err := server.Accept()
				if err != nil {
					var negErr *socks5.Error
					if errors.As(err, &negErr) {
						// Negotiation failed for one client; the stream has
						// already been dealt with, so just accept the next one.
						continue
					}
					logger.Info("listener closed, exiting accept loop")
					return nil
				}
				go handleConnection(logger, pc)
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults built in if omitted)")

	return cmd
}

func configCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Print(cfg.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (defaults built in if omitted)")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// handleConnection is the decision point an embedder reaches once a
// request has been parsed: dial the requested destination (or refuse
// it), then report success or failure exactly once. Dialing and
// relaying are outside this package's scope, so this demonstration
// simply reports success with the bound address left unset and closes
// the resulting ActiveConnection immediately, rather than proxying
// any bytes.
func handleConnection(logger *slog.Logger, pc *socks5.PendingConnection) {
	defer recovery.RecoverWithLog(logger, "socks5d.handleConnection")

	switch pc.Command() {
	case socks5.CmdConnect:
		logger.Info("connect request",
			logging.KeyPeer, pc.Peer().String(),
			logging.KeyAddress, pc.Address().String())

		active, err := pc.ReportSuccess(nil)
		if err != nil {
			logger.Error("failed to report success", logging.KeyError, err.Error())
			return
		}
		defer active.Close()

		// A real proxy would dial pc.Address()/pc.Port() here and
		// copy bytes in both directions over active.Conn(). This
		// example stops at the handoff.
	default:
		logger.Info("unsupported command, refusing", logging.KeyCommand, pc.Command().String())
		if err := pc.ReportCommandNotSupported(); err != nil {
			logger.Error("failed to report command not supported", logging.KeyError, err.Error())
		}
	}
}
