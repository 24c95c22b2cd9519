package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var revealSecrets bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Stores key/value settings in the local database. Provider API keys
saved here (gemini.api_key, openai.api_key) are picked up by serve and
chat when the environment does not supply one.`,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]

		s := getStore(loadConfig())
		defer s.Close()

		if err := s.SetConfig(key, value); err != nil {
			fmt.Printf("Failed to set config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration saved: %s\n", key)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]

		s := getStore(loadConfig())
		defer s.Close()

		val, err := s.GetConfig(key)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		switch {
		case val == "":
			fmt.Println("(not set)")
		case isSecretKey(key) && !revealSecrets:
			fmt.Println(maskSecret(val))
		default:
			fmt.Println(val)
		}
	},
}

// isSecretKey reports whether a configuration key holds a credential
// that should not be echoed to the terminal by default.
func isSecretKey(key string) bool {
	return strings.HasSuffix(key, "api_key") || strings.Contains(key, "secret")
}

func maskSecret(val string) string {
	if len(val) <= 8 {
		return "********"
	}
	return val[:4] + "..." + val[len(val)-4:]
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configGetCmd.Flags().BoolVar(&revealSecrets, "reveal", false, "Print secret values unmasked")
}
