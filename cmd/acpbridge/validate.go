package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dmora/acpbridge/store"
	"github.com/dmora/acpbridge/supervisor"
	"github.com/dmora/acpbridge/toolexec"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the local environment without serving",
	Long: `validate verifies the configured LM binary, session store, and MCP
server are usable, and reports each check. Exits non-zero on failure.`,
	RunE: validateRun,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().String("binary", "claude", "LM tool binary to check")
	_ = viper.BindPFlag("binary", validateCmd.Flags().Lookup("binary"))
}

func validateRun(cmd *cobra.Command, args []string) error {
	ok := true
	pass := func(format string, a ...any) {
		color.Green("  ✓ "+format, a...)
	}
	fail := func(format string, a ...any) {
		ok = false
		color.Red("  ✗ "+format, a...)
	}

	binary := viper.GetString("binary")
	sup := supervisor.New(supervisor.WithBinary(binary))
	if err := sup.Validate(); err != nil {
		fail("binary %q not found in PATH", binary)
	} else {
		pass("binary %q found", binary)
	}

	if path := viper.GetString("store"); path != "" {
		st, err := store.NewSQLiteStore(path)
		if err != nil {
			fail("store %q: %v", path, err)
		} else {
			_ = st.Close()
			pass("store %q writable", path)
		}
	} else {
		pass("store: in-memory")
	}

	if command := viper.GetString("mcp_server"); command != "" {
		if name, mcpArgs, err := mcpCommand(command); err != nil {
			fail("mcp server %q: %v", command, err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			exec, err := toolexec.NewMCPExecutor(ctx, name, mcpArgs...)
			if err != nil {
				fail("mcp server %q: %v", command, err)
			} else {
				names, err := exec.Names(ctx)
				_ = exec.Close()
				if err != nil {
					fail("mcp server %q: list tools: %v", command, err)
				} else {
					pass("mcp server %q: %d tools", command, len(names))
				}
			}
		}
	} else {
		pass("mcp server: none configured")
	}

	switch mode := viper.GetString("permissions"); mode {
	case "ask", "allow", "deny":
		pass("permission mode %q", mode)
	default:
		fail("unknown permission mode %q (want ask, allow, or deny)", mode)
	}

	if !ok {
		return fmt.Errorf("validation failed")
	}
	return nil
}
