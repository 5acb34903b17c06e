package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/juju/fslock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lidofinance/tssd/client/api/http_api"
	"github.com/lidofinance/tssd/client/config"
	"github.com/lidofinance/tssd/client/modules/keystore"
	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/client/services"
	"github.com/lidofinance/tssd/client/services/dispatcher"
)

const (
	flagConfigPath   = "config_path"
	flagUserName     = "username"
	flagDataDir      = "data_dir"
	flagStateDBDSN   = "state_dbdsn"
	flagStoreDBDSN   = "key_store_dbdsn"
	flagRelayAddress = "relay_address"
	flagPartyIndex   = "party_index"
	flagQueueBackend = "queue_backend"
	flagLogLevel     = "log_level"
	flagLogJSON      = "log_json"
	flagListenAddr   = "listen_addr"

	apiShutdownTimeout = 5 * time.Second
)

// viper keys of the flags above
var flagKeys = map[string]string{
	flagUserName:     "username",
	flagDataDir:      "data_dir",
	flagStateDBDSN:   "state_dbdsn",
	flagStoreDBDSN:   "key_store_dbdsn",
	flagRelayAddress: "relay.address",
	flagPartyIndex:   "party.index",
	flagQueueBackend: "queue.backend",
	flagLogLevel:     "log_level",
	flagLogJSON:      "log_json",
	flagListenAddr:   "http_api.listen_addr",
}

func init() {
	rootCmd.PersistentFlags().String(flagConfigPath, "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String(flagUserName, "tssd", "Username attached to every log record")
	rootCmd.PersistentFlags().String(flagDataDir, "./tssd_data", "Data directory, locked while the daemon runs")
	rootCmd.PersistentFlags().String(flagStateDBDSN, "./tssd_data/state", "State DBDSN")
	rootCmd.PersistentFlags().String(flagStoreDBDSN, "./tssd_data/key_store", "Key Store DBDSN")
	rootCmd.PersistentFlags().String(flagRelayAddress, "", "Session relay address")
	rootCmd.PersistentFlags().Uint16(flagPartyIndex, 0, "Index of this node in the signing group")
	rootCmd.PersistentFlags().String(flagQueueBackend, config.QueueBackendKafka, "Queue backend: kafka or file")
	rootCmd.PersistentFlags().String(flagLogLevel, "info", "Log level")
	rootCmd.PersistentFlags().Bool(flagLogJSON, false, "Write logs as JSON lines")
	rootCmd.PersistentFlags().String(flagListenAddr, "", "Operator API listen address, disabled when empty")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	configPath, err := cmd.Flags().GetString(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	return config.Load(v, configPath)
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	if cfg.LogJSON {
		return logger.NewJSONLogger(os.Stderr, cfg.Username, cfg.LogLevel)
	}
	return logger.NewLogger(cfg.Username), nil
}

func startCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "starts the tssd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			l, err := newLogger(cfg)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return fmt.Errorf("failed to create data dir: %w", err)
			}
			lock := fslock.New(filepath.Join(cfg.DataDir, "tssd.lock"))
			if err := lock.TryLock(); err != nil {
				return fmt.Errorf("failed to lock data dir %s, is another tssd running? %w", cfg.DataDir, err)
			}
			defer lock.Unlock()

			sp, err := services.InitServices(cfg, l)
			if err != nil {
				return fmt.Errorf("failed to init services: %w", err)
			}
			defer sp.Close()

			d, err := dispatcher.NewDispatcher(cfg, sp)
			if err != nil {
				return fmt.Errorf("failed to init dispatcher: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if cfg.HttpApi.ListenAddr != "" {
				api := http_api.NewServer(cfg.HttpApi, sp)
				go func() {
					if err := api.Start(); err != nil {
						l.Error(err, "operator API failed")
						cancel()
					}
				}()
				defer func() {
					stopCtx, stop := context.WithTimeout(context.Background(), apiShutdownTimeout)
					defer stop()
					if err := api.Stop(stopCtx); err != nil {
						l.Error(err, "failed to stop operator API")
					}
				}()
				l.Log("operator API listening on %s", cfg.HttpApi.ListenAddr)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case sig := <-sigs:
					l.Log("received %s, stopping tssd...", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			l.Log("tssd started as party %d of %d", cfg.Party.Index, cfg.Party.Parties)
			if err := d.Run(ctx); err != nil {
				return fmt.Errorf("dispatcher stopped: %w", err)
			}
			l.Log("tssd stopped")

			return nil
		},
	}
}

func genMnemonicCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gen_mnemonic",
		Short: "generates a mnemonic for sealing key shares at rest",
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, err := keystore.NewMnemonic()
			if err != nil {
				return err
			}
			fmt.Println(mnemonic)
			return nil
		},
	}
}

var rootCmd = &cobra.Command{
	Use:   "tssd",
	Short: "threshold signature orchestration daemon",
}

func main() {
	rootCmd.AddCommand(
		startCommand(),
		genMnemonicCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute root command: %v", err)
	}
}
