package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "acpbridge",
	Short: "ACP agent bridging editors to a stream-json LM subprocess",
	Long: `acpbridge speaks the Agent Client Protocol on stdio and drives a
line-delimited JSON LM tool as a subprocess, one process per session.
Editors get streamed text, tool call lifecycles, and permission prompts;
the subprocess gets prompts and tool results.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/acpbridge/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "acpbridge"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ACPBRIDGE")
	viper.AutomaticEnv()

	viper.SetDefault("binary", "claude")
	viper.SetDefault("model", "")
	viper.SetDefault("system_prompt", "")
	viper.SetDefault("max_turn_requests", 16)
	viper.SetDefault("max_tokens_per_turn", 32000)
	viper.SetDefault("refusal_patterns", []string{})
	viper.SetDefault("store", "")
	viper.SetDefault("mcp_server", "")
	viper.SetDefault("permissions", "ask")

	// Config file is optional.
	_ = viper.ReadInConfig()
}

// newLogger builds the process logger. ACP owns stdout, so diagnostics
// go to stderr.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
