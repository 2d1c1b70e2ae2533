package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/danmuck/actionrpc/internal/config"
	logs "github.com/danmuck/actionrpc/internal/logging"
	"github.com/danmuck/actionrpc/internal/node"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

type flagValues struct {
	configPath    string
	name          string
	addr          string
	adminAddr     string
	compatVersion string
	fixtures      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var fv flagValues
	root := &cobra.Command{
		Use:          "actiond",
		Short:        "Serve versioned typed actions over the node transport",
		Version:      fmt.Sprintf("%s %s/%s protocol=%s", buildVersion(), runtime.GOOS, runtime.GOARCH, version.Current),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logs.ConfigureRuntime()
			cfg, err := resolveConfig(cmd.Flags(), fv)
			if err != nil {
				return err
			}
			n, err := node.New(cfg)
			if err != nil {
				return err
			}
			if path := strings.TrimSpace(cfg.Node.Fixtures); path != "" {
				fx, err := loadFixtures(path)
				if err != nil {
					return err
				}
				fx.apply(n.Models(), n.SyncJobs())
				logs.Infof("actiond fixtures loaded path=%q models=%d sync_jobs=%d", path, len(fx.Models), len(fx.SyncJobs))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return n.Run(ctx)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&fv.configPath, "config", "c", "", "path to the node TOML config")
	flags.StringVar(&fv.name, "name", "", "node name")
	flags.StringVar(&fv.addr, "addr", "", "transport listen address")
	flags.StringVar(&fv.adminAddr, "admin-addr", "", "admin HTTP listen address")
	flags.StringVar(&fv.compatVersion, "compat-version", "", "advertise an older protocol version (name or id)")
	flags.StringVar(&fv.fixtures, "fixtures", "", "TOML file of models and sync jobs to preload")

	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionsCmd())
	return root
}

// resolveConfig loads the config file, then applies flags the user set.
func resolveConfig(flags *pflag.FlagSet, fv flagValues) (config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(fv.configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	changed := map[string]bool{}
	flags.Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	if changed["name"] {
		cfg.Node.Name = fv.name
	}
	if changed["addr"] {
		cfg.Transport.Addr = fv.addr
	}
	if changed["admin-addr"] {
		cfg.Admin.Addr = fv.adminAddr
	}
	if changed["compat-version"] {
		cfg.Transport.CompatVersion = fv.compatVersion
	}
	if changed["fixtures"] {
		cfg.Node.Fixtures = fv.fixtures
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a starter config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Print the protocol version table",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, info := range version.All() {
				fmt.Fprintf(out, "%-10d %s\n", uint32(info.ID), info.Name)
			}
		},
	}
}
