package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/earpm/cmd/earpmd/app/options"
	"github.com/autopeer-io/earpm/pkg/log"
)

const (
	commandName = "earpmd"
	commandDesc = `earpmd is the MQTT event admin remote provider. It forwards local events
to remote peers through an MQTT v5 broker, delivers remote events to local
handlers and answers synchronous events once they are handled.

Brokers come from --mqtt.broker, from the local mosquitto profile on
broker-hosting nodes, and from endpoints announced on /endpoints.`

	envPrefix = "EARPM"
)

// envAliases are short environment names kept next to the EARPM_<FLAG> form.
var envAliases = map[string]string{
	"discovery.broker-profile":    "EARPM_BROKER_PROFILE",
	"earpm.parallel-msg-capacity": "EARPM_PARALLEL_MSG_CAPACITY",
}

func NewEarpmdCommand(ctx context.Context) *cobra.Command {
	opts := options.NewEarpmdOptions()
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Launch the MQTT event admin remote provider",
		Long:         commandDesc,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, cmd, configFile, opts)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Init(opts.Log)
			defer func() { _ = log.Std().Sync() }()

			if err := opts.Complete(); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			server, err := cfg.NewServer()
			if err != nil {
				log.Error(err, "failed to create earpmd server")
				return err
			}

			return server.Run(ctx)
		},
	}

	fs := cmd.Flags()
	namedfs := opts.Flags()
	namedfs.FlagSet("global").StringVar(&configFile, "config", "", "Path to a configuration file (yaml, json or toml).")
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}
	cliflag.SetUsageAndHelpFunc(cmd, namedfs, 80)

	cmd.AddCommand(newProfileCommand())
	return cmd
}

// loadConfig layers the config file and EARPM_* environment below explicitly
// set flags and decodes the result into opts.
func loadConfig(v *viper.Viper, cmd *cobra.Command, configFile string, opts *options.EarpmdOptions) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		canonical := envPrefix + "_" + strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToUpper(key))
		if err := v.BindEnv(key, canonical, env); err != nil {
			return err
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", configFile, err)
		}
	}

	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}
