package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/wsclient/internal/config"
	"github.com/danmuck/wsclient/internal/protocol/packet"
	"github.com/spf13/cobra"
)

// connectFlags are command-line overrides applied on top of the config file.
type connectFlags struct {
	configPath  string
	url         string
	subprotocol string
	platform    string
	sessionID   string
	token       string
	codec       string
	logLevel    string
	file        string
	verbose     bool
	insecure    bool
}

func (f *connectFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "client config file (.toml, .yaml)")
	fs.StringVarP(&f.url, "url", "u", "", "server URL (ws:// or wss://)")
	fs.StringVarP(&f.subprotocol, "protocol", "p", "", "WebSocket subprotocol")
	fs.StringVar(&f.platform, "platform", "", "value of the Sec-Websocket-Platform header")
	fs.StringVar(&f.sessionID, "session", "", "session id to resume")
	fs.StringVar(&f.token, "token", "", "bearer token sent with the upgrade request")
	fs.StringVar(&f.codec, "codec", "", "metadata codec for stdin packets: json|cbor")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	fs.StringVarP(&f.file, "file", "f", "", "send this file as a type-2 packet after connecting")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log packet metadata instead of sizes")
	fs.BoolVar(&f.insecure, "insecure", false, "skip TLS certificate verification")
}

func (f *connectFlags) resolve(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if f.configPath != "" {
		loaded, err := config.LoadClient(f.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.Transport.URL = strings.TrimSpace(f.url)
	}
	if changed("protocol") {
		cfg.Transport.Subprotocol = strings.TrimSpace(f.subprotocol)
	}
	if changed("platform") {
		cfg.Transport.Platform = strings.TrimSpace(f.platform)
	}
	if changed("session") {
		cfg.Session.SessionID = strings.TrimSpace(f.sessionID)
	}
	if changed("token") {
		header := make(map[string]string, len(cfg.Transport.Header)+1)
		for k, v := range cfg.Transport.Header {
			header[k] = v
		}
		header["Authorization"] = "Bearer " + strings.TrimSpace(f.token)
		cfg.Transport.Header = header
	}
	if changed("codec") {
		codec, ok := packet.CodecByName(strings.ToLower(strings.TrimSpace(f.codec)))
		if !ok {
			return config.ClientConfig{}, fmt.Errorf("unknown codec %q", f.codec)
		}
		cfg.Session.Codec = codec
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("verbose") {
		cfg.Session.Verbose = f.verbose
	}
	if changed("insecure") {
		cfg.Transport.TLS.InsecureSkipVerify = f.insecure
	}

	if strings.TrimSpace(cfg.Transport.URL) == "" {
		return config.ClientConfig{}, fmt.Errorf("a server url is required (--url or url in --config)")
	}
	if err := cfg.Validate(); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate config files",
	}

	var (
		kind   string
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = kind + ".toml"
			}
			if err := config.WriteTemplate(output, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&kind, "kind", "k", "client", "config kind: client|hub")
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <kind>.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var validateKind string
	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			switch validateKind {
			case "client":
				_, err = config.LoadClient(args[0])
			case "hub":
				_, err = config.LoadHub(args[0])
			default:
				err = fmt.Errorf("unknown kind: %s", validateKind)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", validateKind, args[0])
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&validateKind, "kind", "k", "client", "config kind: client|hub")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
