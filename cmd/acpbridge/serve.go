package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dmora/acpbridge/permission"
	"github.com/dmora/acpbridge/server"
	"github.com/dmora/acpbridge/store"
	"github.com/dmora/acpbridge/supervisor"
	"github.com/dmora/acpbridge/toolexec"
	"github.com/dmora/acpbridge/turn"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ACP agent on stdio",
	Long: `serve speaks ACP on stdin/stdout until the editor disconnects.
All diagnostics go to stderr; stdout carries only protocol traffic.`,
	RunE: serveRun,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("binary", "claude", "LM tool binary to spawn per session")
	serveCmd.Flags().String("model", "", "Model passed to the LM tool (empty = tool default)")
	serveCmd.Flags().String("store", "", "SQLite path for session metadata (empty = in-memory)")
	serveCmd.Flags().String("mcp-server", "", "MCP server command for tool execution")
	serveCmd.Flags().String("permissions", "ask", "Permission mode: ask, allow, or deny")

	_ = viper.BindPFlag("binary", serveCmd.Flags().Lookup("binary"))
	_ = viper.BindPFlag("model", serveCmd.Flags().Lookup("model"))
	_ = viper.BindPFlag("store", serveCmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("mcp_server", serveCmd.Flags().Lookup("mcp-server"))
	_ = viper.BindPFlag("permissions", serveCmd.Flags().Lookup("permissions"))
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(
		supervisor.WithBinary(viper.GetString("binary")),
		supervisor.WithLogger(log),
	)
	if err := sup.Validate(); err != nil {
		return err
	}

	opts := []turn.Option{
		turn.WithLogger(log),
		turn.WithMaxTurnRequests(viper.GetInt("max_turn_requests")),
		turn.WithMaxTokensPerTurn(viper.GetInt("max_tokens_per_turn")),
	}
	if patterns := viper.GetStringSlice("refusal_patterns"); len(patterns) > 0 {
		opts = append(opts, turn.WithRefusalPatterns(patterns...))
	}

	if path := viper.GetString("store"); path != "" {
		st, err := store.NewSQLiteStore(path)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, turn.WithStore(st))
	} else {
		opts = append(opts, turn.WithStore(store.NewMemory()))
	}

	if command := viper.GetString("mcp_server"); command != "" {
		name, mcpArgs, err := mcpCommand(command)
		if err != nil {
			return err
		}
		exec, err := toolexec.NewMCPExecutor(ctx, name, mcpArgs...)
		if err != nil {
			return err
		}
		defer exec.Close()
		opts = append(opts, turn.WithTools(exec))
	} else {
		opts = append(opts, turn.WithTools(toolexec.NewRegistry()))
	}

	var binder *permission.LateBinder
	switch viper.GetString("permissions") {
	case "allow":
		opts = append(opts, turn.WithGate(permission.NewPolicy(nil, nil, true)))
	case "deny":
		opts = append(opts, turn.WithGate(permission.NewPolicy(nil, nil, false)))
	default:
		binder = &permission.LateBinder{}
		opts = append(opts, turn.WithGate(permission.NewAskGate(binder)))
	}

	rt := turn.NewRuntime(sup, opts...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Shutdown(shutdownCtx)
	}()

	var sessionOpts map[string]string
	if sp := viper.GetString("system_prompt"); sp != "" {
		sessionOpts = map[string]string{supervisor.OptionSystemPrompt: sp}
	}

	err := server.Serve(ctx, rt, viper.GetString("model"), sessionOpts, log, os.Stdout, os.Stdin,
		func(conn *acp.AgentSideConnection) {
			if binder != nil {
				binder.Bind(conn)
			}
		})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// mcpCommand splits an mcp_server config value into binary and args.
// A value that is all whitespace is a configuration error.
func mcpCommand(raw string) (string, []string, error) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return "", nil, errors.New("mcp_server: blank command")
	}
	return parts[0], parts[1:], nil
}
