package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/client"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	tlsutil "github.com/psantana5/phoenix-oracle/pkg/tls"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	oracleURL    string
	identity     string
	apiKey       string
	outputFormat string
	caFile       string
	insecure     bool
	timeout      time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:          "oraclectl",
	Short:        "CLI for the phoenix oracle",
	Long:         `oraclectl submits requests to the oracle, fulfills them as the owner and inspects the ledger and event log.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.oraclectl/config)")
	rootCmd.PersistentFlags().StringVar(&oracleURL, "oracle", "", "oracle API URL (default from config or https://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", "", "identity to authenticate as")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA certificate trusted for the oracle's TLS certificate")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-call timeout")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".oraclectl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("oracle")
	viper.AutomaticEnv()
	viper.BindEnv("url", "ORACLE_URL")
	viper.BindEnv("identity", "ORACLE_IDENTITY")
	viper.BindEnv("api_key", "ORACLE_API_KEY")
	viper.BindEnv("ca_file", "ORACLE_CA_FILE")

	// A missing config file is fine; flags and env still apply
	_ = viper.ReadInConfig()

	if oracleURL == "" {
		oracleURL = viper.GetString("url")
	}
	if identity == "" {
		identity = viper.GetString("identity")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if caFile == "" {
		caFile = viper.GetString("ca_file")
	}
	if !insecure {
		insecure = viper.GetBool("insecure")
	}

	if oracleURL == "" {
		oracleURL = "https://localhost:8080"
	}
}

// newClient builds an API client from flags, config and environment
func newClient() (*client.Client, error) {
	var id models.Identity
	if identity != "" {
		parsed, err := models.ParseIdentity(identity)
		if err != nil {
			return nil, fmt.Errorf("--identity: %w", err)
		}
		id = parsed
	}

	hc := &http.Client{Timeout: timeout}
	if strings.HasPrefix(oracleURL, "https://") {
		tlsConfig, err := tlsutil.LoadClientTLSConfig("", "", caFile, insecure)
		if err != nil {
			return nil, err
		}
		hc.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return client.New(oracleURL, id, apiKey, client.WithHTTPClient(hc)), nil
}

func requireIdentity() error {
	if identity == "" || apiKey == "" {
		return fmt.Errorf("this command needs --identity and an API key (ORACLE_API_KEY or api_key in the config file)")
	}
	return nil
}
