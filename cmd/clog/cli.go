package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mkoval/clog/internal/agent"
	"github.com/mkoval/clog/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds the resolved agent.Config plus the fields read straight off
// flags/env/config-file before being turned into TLS configs.
type cli struct {
	cfg      agent.Config
	dataDir  string
	rpcAddr  string
	rpcPort  int
	nodeName string

	serverTLSConfig config.TLSConfig
	peerTLSConfig   config.TLSConfig
}

// NewCLI builds the clog root command: flags bind into viper, viper reads
// an optional --config-file and CLOG_* environment variables, and
// PreRunE resolves all of that into an agent.Config before RunE starts
// the agent and blocks until it's told to shut down.
func NewCLI() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:     "clog",
		PreRunE: c.setupConfig,
		RunE:    c.run,
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")

	dataDir, err := os.UserHomeDir()
	if err != nil {
		dataDir = "."
	}

	cmd.Flags().String("data-dir", dataDir, "Directory to store log data.")
	cmd.Flags().String("node-name", hostnameOrDefault(), "Unique server ID.")
	cmd.Flags().String("bind-addr", "127.0.0.1:8401", "Address that Serf runs on.")
	cmd.Flags().Int("rpc-port", 8400, "Port for RPC client and peer replication connections.")
	cmd.Flags().StringSlice("start-join-addrs", nil, "Serf addresses to join.")
	cmd.Flags().String("acl-model-file", "", "Path to ACL model.")
	cmd.Flags().String("acl-policy-file", "", "Path to ACL policy.")
	cmd.Flags().String("server-tls-cert-file", "", "Path to server tls cert.")
	cmd.Flags().String("server-tls-key-file", "", "Path to server tls key.")
	cmd.Flags().String("server-tls-ca-file", "", "Path to server certificate authority.")
	cmd.Flags().String("peer-tls-cert-file", "", "Path to peer tls cert.")
	cmd.Flags().String("peer-tls-key-file", "", "Path to peer tls key.")
	cmd.Flags().String("peer-tls-ca-file", "", "Path to peer certificate authority.")

	return viper.BindPFlags(cmd.Flags())
}

func hostnameOrDefault() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "clog"
	}
	return hostname
}

// setupConfig resolves --config-file, CLOG_*-prefixed environment
// variables, and flag defaults into the cli's agent.Config. TLS configs
// are only built when both their cert and key paths are set. Leaving the
// peer cert/key unset does not give a plaintext agent: agent.New then
// dials its own RPC address with no transport credentials, which
// grpc.NewClient rejects.
func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}

	viper.SetConfigFile(configFile)
	viper.SetEnvPrefix("CLOG")
	viper.AutomaticEnv()

	if configFile != "" {
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
	}

	c.dataDir = viper.GetString("data-dir")
	c.nodeName = viper.GetString("node-name")
	c.rpcPort = viper.GetInt("rpc-port")

	c.cfg = agent.Config{
		DataDir:        c.dataDir,
		NodeName:       c.nodeName,
		BindAddr:       viper.GetString("bind-addr"),
		RPCPort:        c.rpcPort,
		StartJoinAddrs: viper.GetStringSlice("start-join-addrs"),
		ACLModelFile:   viper.GetString("acl-model-file"),
		ACLPolicyFile:  viper.GetString("acl-policy-file"),
	}

	if err := c.setupTLS(); err != nil {
		return err
	}

	return nil
}

func (c *cli) setupTLS() error {
	serverTLSCertFile := viper.GetString("server-tls-cert-file")
	serverTLSKeyFile := viper.GetString("server-tls-key-file")
	serverTLSCAFile := viper.GetString("server-tls-ca-file")

	if serverTLSCertFile != "" && serverTLSKeyFile != "" {
		c.serverTLSConfig = config.TLSConfig{
			CertFile: serverTLSCertFile,
			KeyFile:  serverTLSKeyFile,
			CAFile:   serverTLSCAFile,
			Server:   true,
		}

		tlsConfig, err := config.SetupTLSConfig(c.serverTLSConfig)
		if err != nil {
			return err
		}
		c.cfg.ServerTLSConfig = tlsConfig
	}

	peerTLSCertFile := viper.GetString("peer-tls-cert-file")
	peerTLSKeyFile := viper.GetString("peer-tls-key-file")
	peerTLSCAFile := viper.GetString("peer-tls-ca-file")

	if peerTLSCertFile != "" && peerTLSKeyFile != "" {
		c.peerTLSConfig = config.TLSConfig{
			CertFile: peerTLSCertFile,
			KeyFile:  peerTLSKeyFile,
			CAFile:   peerTLSCAFile,
			Server:   false,
		}

		tlsConfig, err := config.SetupTLSConfig(c.peerTLSConfig)
		if err != nil {
			return err
		}
		c.cfg.PeerTLSConfig = tlsConfig
	}

	return nil
}

// run starts the agent and blocks until SIGINT/SIGTERM, at which point it
// runs the agent's graceful shutdown before returning.
func (c *cli) run(cmd *cobra.Command, args []string) error {
	a, err := agent.New(c.cfg)
	if err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	return a.Shutdown()
}
