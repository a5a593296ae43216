package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	logFile string
	verbose bool
	version bool

	// lobby
	wsURL string
	token string
	room  string

	// console
	apiURL      string
	catalogPath string
	timeout     time.Duration
	userID      int64
	pageLimit   int

	// sandbox
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
}

func (c *Config) validateSandbox() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	return nil
}

func (c *Config) validateLobby() error {
	return validateURL("--ws-url", c.wsURL, "ws", "wss")
}

func (c *Config) validateConsole() error {
	if err := validateURL("--api-url", c.apiURL, "http", "https"); err != nil {
		return err
	}
	if c.timeout <= 0 {
		return fmt.Errorf("invalid timeout (must be positive): %s", c.timeout)
	}
	if c.pageLimit < 1 {
		return fmt.Errorf("invalid page limit (must be at least 1): %d", c.pageLimit)
	}
	return nil
}

func validateURL(flag, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", flag, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s (must be a %s URL): %q", flag, strings.Join(schemes, " or "), raw)
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindEnv lets every flag in fs fall back to BATTLEBOX_<FLAG_NAME>.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BATTLEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "battlebox",
		Short:         "Lobby client, API console and local sandbox for the battle server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			bindEnv(v, cmd.Flags())
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.logFile, "log-file", "", "write logs to this file, rotated at 10MB (env: BATTLEBOX_LOG_FILE)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BATTLEBOX_VERBOSE)")

	cmd.Flags().BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BATTLEBOX_VERSION)")

	cmd.AddCommand(
		newLobbyCmd(cfg),
		newConsoleCmd(cfg),
		newCatalogCmd(cfg),
		newSandboxCmd(cfg),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("battlebox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newLobbyCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Connect to a battle server and drive it from the terminal.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateLobby(); err != nil {
				return err
			}
			log, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			return runLobby(cmd.Context(), cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfg.wsURL, "ws-url", "ws://127.0.0.1:8080/ws", "battle server websocket URL (env: BATTLEBOX_WS_URL)")
	fs.StringVar(&cfg.token, "token", "", "session token used by pair and auth (env: BATTLEBOX_TOKEN)")
	fs.StringVar(&cfg.room, "room", "", "room name used by auth (env: BATTLEBOX_ROOM)")

	return cmd
}

func newConsoleCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Send catalog requests to the API server and browse their history.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateConsole(); err != nil {
				return err
			}
			log, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			return runConsole(cmd.Context(), cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	addCatalogFlag(cfg, fs)
	fs.StringVar(&cfg.apiURL, "api-url", "http://localhost:9998", "API server base URL (env: BATTLEBOX_API_URL)")
	fs.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "time allowed for each request (env: BATTLEBOX_TIMEOUT)")
	fs.Int64Var(&cfg.userID, "user-id", 0, "UserId used when paging match/listUserWeb (env: BATTLEBOX_USER_ID)")
	fs.IntVar(&cfg.pageLimit, "page-limit", 6, "items fetched per page by the more command (env: BATTLEBOX_PAGE_LIMIT)")

	return cmd
}

func newCatalogCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the endpoints known to the console.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			printCatalog(cmd.OutOrStdout(), catalog, "")

			return nil
		},
	}

	addCatalogFlag(cfg, cmd.Flags())

	return cmd
}

func newSandboxCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Serve a local stand-in for the API and battle servers.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateSandbox(); err != nil {
				return err
			}
			log, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			return ServeSandbox(cmd.Context(), cfg, log, catalog)
		},
	}

	fs := cmd.Flags()
	addCatalogFlag(cfg, fs)
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BATTLEBOX_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: BATTLEBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: BATTLEBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BATTLEBOX_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BATTLEBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BATTLEBOX_TLS_KEY)")

	return cmd
}

func addCatalogFlag(cfg *Config, fs *pflag.FlagSet) {
	fs.StringVar(&cfg.catalogPath, "catalog", "", "catalog file to use instead of the built-in one (env: BATTLEBOX_CATALOG)")
}
