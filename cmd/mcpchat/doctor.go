package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"mcpchat/internal/config"
	"mcpchat/internal/memory"
	"mcpchat/internal/provider"
	"mcpchat/internal/toolserver"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your mcpchat setup",
		Long: `Verifies the configuration, the MCP server config directory, the server
commands, provider API keys and the transcript database. Servers are not
started; use "mcpchat servers" for that.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("mcpchat doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, warned, failed int

			// 1. Config file
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 2. Server config directory and commands
			reg := toolserver.NewRegistry(cfg.MCP.ServersDir, logger)
			if err := reg.Load(); err != nil {
				if errors.Is(err, toolserver.ErrConfigDir) {
					printFail("Server configs", err.Error())
					failed++
				} else {
					printWarn("Server configs", err.Error())
					warned++
				}
			}
			if reg.Len() == 0 {
				printWarn("Servers", fmt.Sprintf("none configured in %s", cfg.MCP.ServersDir))
				warned++
			}
			for _, name := range reg.Names() {
				sc, _ := reg.Get(name)
				if path, err := exec.LookPath(sc.Command); err != nil {
					printFail("Server: "+name, fmt.Sprintf("command %q not found", sc.Command))
					failed++
				} else {
					printPass("Server: "+name, path)
					passed++
				}
			}

			// 3. Provider keys
			for _, name := range provider.Names() {
				env := map[string]string{provider.NameDeepSeek: "DEEPSEEK_API_KEY", provider.NameAnthropic: "ANTHROPIC_API_KEY"}[name]
				if cfg.Providers[name].APIKey != "" || os.Getenv(env) != "" {
					printPass("Provider: "+name, "API key configured")
					passed++
				} else {
					printWarn("Provider: "+name, "no API key (set "+env+")")
					warned++
				}
			}

			// 4. Transcript database
			if cfg.Memory.Enabled {
				store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
				if err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					store.Close()
					printPass("Database", cfg.Memory.DBPath)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
