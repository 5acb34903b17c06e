package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lidofinance/tssd/client/config"
	"github.com/lidofinance/tssd/client/services/dispatcher"
	"github.com/lidofinance/tssd/storage"
	"github.com/lidofinance/tssd/storage/file_storage"
	"github.com/lidofinance/tssd/storage/kafka_storage"
)

const (
	flagConfigPath = "config_path"
	flagSessionID  = "session_id"
	flagParties    = "parties"
	flagListenAddr = "listen_addr"
)

func init() {
	rootCmd.PersistentFlags().String(flagConfigPath, "", "Path to the tssd YAML config file")
	rootCmd.PersistentFlags().String(flagListenAddr, "localhost:8080", "Operator API address of tssd")
}

var (
	green = color.New(color.FgGreen).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return config.Load(viper.New(), configPath)
}

type closablePublisher interface {
	storage.Publisher
	Close() error
}

func newPublisher(cfg *config.Config, topic string) (closablePublisher, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendFile:
		return file_storage.NewFileProducer(filepath.Join(cfg.Queue.FileDir, topic))
	case config.QueueBackendKafka:
		tlsConfig, err := cfg.Kafka.TLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create tls config: %w", err)
		}
		producerCreds, _, err := cfg.Kafka.Credentials()
		if err != nil {
			return nil, err
		}
		return kafka_storage.NewProducer(cfg.Kafka.Brokers, topic, tlsConfig, producerCreds, cfg.Kafka.Timeout)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func newEnvelope(requestID string, job interface{}) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return storage.Envelope{RequestID: requestID, Payload: string(payload)}.Marshal()
}

func parseParties(s string) ([]uint16, error) {
	if s == "" {
		return nil, nil
	}
	var parties []uint16
	for _, f := range strings.Split(s, ",") {
		p, err := strconv.ParseUint(strings.TrimSpace(f), 10, 16)
		if err != nil || p == 0 {
			return nil, fmt.Errorf("invalid party index %q", f)
		}
		parties = append(parties, uint16(p))
	}
	return parties, nil
}

func publish(cfg *config.Config, topic, requestID string, job interface{}) error {
	value, err := newEnvelope(requestID, job)
	if err != nil {
		return err
	}

	p, err := newPublisher(cfg, topic)
	if err != nil {
		return fmt.Errorf("failed to init publisher: %w", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), requestID, value); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen [identity]",
		Args:  cobra.ExactArgs(1),
		Short: "requests a distributed key generation for the identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			requestID := uuid.New().String()
			if err := publish(cfg, cfg.Queue.KeygenTopic, requestID, dispatcher.KeygenJobForm{Identity: args[0]}); err != nil {
				return err
			}

			fmt.Printf("keygen for %s requested, request id %s\n", cyan(args[0]), green(requestID))
			return nil
		},
	}
}

func signCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign [identity] [message]",
		Args:  cobra.ExactArgs(2),
		Short: "requests a threshold signature of the message with the identity's key",
		Long:  "The message is a hex encoded digest. A message that is not valid hex is signed as its raw bytes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			sessionID, err := cmd.Flags().GetString(flagSessionID)
			if err != nil {
				return fmt.Errorf("failed to read configuration: %w", err)
			}
			if sessionID == "" {
				sessionID = uuid.New().String()
			}
			partiesFlag, err := cmd.Flags().GetString(flagParties)
			if err != nil {
				return fmt.Errorf("failed to read configuration: %w", err)
			}
			parties, err := parseParties(partiesFlag)
			if err != nil {
				return err
			}

			job := dispatcher.SignJobForm{
				Message:   args[1],
				SessionID: sessionID,
				Identity:  args[0],
				Parties:   parties,
			}
			requestID := uuid.New().String()
			if err := publish(cfg, cfg.Queue.SignTopic, requestID, job); err != nil {
				return err
			}

			fmt.Printf("signing requested, session id %s, request id %s\n", cyan(sessionID), green(requestID))
			return nil
		},
	}
	cmd.Flags().String(flagSessionID, "", "Session id shared by all signers, random by default")
	cmd.Flags().String(flagParties, "", "Comma separated key indices of the signers, configured signers by default")
	return cmd
}

func getRequest(host, path string, query url.Values, result interface{}) error {
	resp, err := http.Get(fmt.Sprintf("http://%s%s?%s", host, path, query.Encode()))
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()
	responseBody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	var response Response
	if err = json.Unmarshal(responseBody, &response); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if response.ErrorMessage != "" {
		return errors.New(response.ErrorMessage)
	}
	if err = json.Unmarshal(response.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

func showPubKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show_pubkey [identity]",
		Args:  cobra.ExactArgs(1),
		Short: "prints the joint public key of the identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString(flagListenAddr)
			if err != nil {
				return fmt.Errorf("failed to read configuration: %w", err)
			}

			var pubKey string
			if err := getRequest(listenAddr, "/getPubKey", url.Values{"identity": {args[0]}}, &pubKey); err != nil {
				return fmt.Errorf("failed to get public key: %w", err)
			}
			fmt.Printf("%s: %s\n", cyan(args[0]), green(pubKey))
			return nil
		},
	}
}

func getJobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get_job [sign|keygen] [id]",
		Args:  cobra.ExactArgs(2),
		Short: "prints the ledger entry of a job: sign jobs by session id, keygen jobs by request id",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString(flagListenAddr)
			if err != nil {
				return fmt.Errorf("failed to read configuration: %w", err)
			}

			var j JobResponse
			if err := getRequest(listenAddr, "/getJob", url.Values{"kind": {args[0]}, "id": {args[1]}}, &j); err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}

			status := green(j.Status)
			if j.Status != "completed" {
				status = red(j.Status)
			}
			fmt.Printf("%s job %s: %s\n", j.Kind, cyan(j.ID), status)
			fmt.Printf("Request ID: %s\n", j.RequestID)
			fmt.Printf("Started at: %s\n", j.StartedAt.Format(time.RFC3339))
			if !j.FinishedAt.IsZero() {
				fmt.Printf("Finished at: %s\n", j.FinishedAt.Format(time.RFC3339))
			}
			if j.Info != "" {
				fmt.Printf("Info: %s\n", j.Info)
			}
			return nil
		},
	}
}

var rootCmd = &cobra.Command{
	Use:   "tss_cli",
	Short: "tssd operator utilities",
}

func main() {
	rootCmd.AddCommand(
		keygenCommand(),
		signCommand(),
		showPubKeyCommand(),
		getJobCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute root command: %v", err)
	}
}
