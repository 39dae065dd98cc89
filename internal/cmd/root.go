package cmd

import (
	"fmt"
	"strings"

	cachecmd "github.com/Iron-Ham/klaus/internal/cmd/cache"
	configcmd "github.com/Iron-Ham/klaus/internal/cmd/config"
	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "klaus",
	Short: "AI-assisted data integration wizard",
	Long: `Klaus Kode walks you through building a data integration application:
it collects what the application needs, has an AI agent write the code,
tests it in a cloud sandbox, and deploys it.

Workflows:
  source    bring data in from an external system
  sink      write topic data to an external system
  diagnose  edit and redeploy an existing application`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runSession,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/klaus/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "log at debug level and show technical error detail")

	rootCmd.Flags().StringP("workflow", "w", "", fmt.Sprintf("run a workflow directly, skipping the menu (%s)", strings.Join(kindNames(), ", ")))
	_ = rootCmd.RegisterFlagCompletionFunc("workflow", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return kindNames(), cobra.ShellCompDirectiveNoFileComp
	})

	configcmd.Register(rootCmd)
	cachecmd.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/klaus")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("KLAUS")
	// Replace dots with underscores for nested keys in env vars
	// e.g., KLAUS_PLATFORM_TOKEN for platform.token
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

func kindNames() []string {
	kinds := phase.AllKinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
