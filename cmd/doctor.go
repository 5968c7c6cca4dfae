package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("ian doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — env-only configuration)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Validation: %s\n", err)
	} else {
		fmt.Println("  Validation: OK")
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s\n", "Path:", cfg.Memory.DBPath)
	st, dbErr := store.Open(cfg.Memory.DBPath)
	if dbErr != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", dbErr)
	} else {
		defer st.Close()
		v, dirty, verr := store.Version(st.DB)
		switch {
		case verr != nil:
			fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", verr)
		case dirty:
			fmt.Printf("    %-12s v%d (DIRTY — run: ian migrate force after repair)\n", "Schema:", v)
		case v == 0:
			fmt.Printf("    %-12s empty (run: ian migrate up)\n", "Schema:")
		default:
			fmt.Printf("    %-12s v%d\n", "Schema:", v)
		}
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkKey("Anthropic", cfg.Anthropic.APIKey)
	checkKey("Brave", cfg.Tools.Search.BraveAPIKey)

	fmt.Println()
	fmt.Println("  Chat identities:")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	checkIdentity(ctx, "Haiku", cfg.Slack.TokenHaiku, cfg.Slack.BaseURL)
	checkIdentity(ctx, "Sonnet", cfg.Slack.TokenSonnet, cfg.Slack.BaseURL)

	fmt.Println()
	fmt.Println("  Channels:")
	fmt.Printf("    %-12s %s\n", "Control:", orUnset(cfg.Slack.ControlChannelID))
	fmt.Printf("    %-12s %d configured\n", "Client:", len(cfg.Slack.ClientChannels))

	if len(cfg.Mcp) > 0 {
		fmt.Println()
		fmt.Println("  MCP servers:")
		for _, s := range cfg.Mcp {
			target := s.Command
			if target == "" {
				target = s.URL
			}
			fmt.Printf("    %-12s %s\n", s.Name+":", target)
		}
	}

	fmt.Println()
	checkDir("Workspace", cfg.Projects.Root)
	checkDir("Markdown", cfg.Memory.MarkdownPath)
	checkDir("Audit", cfg.Audit.LogPath)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkKey(name, key string) {
	if key == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := key
	if len(key) > 8 {
		masked = key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkIdentity(ctx context.Context, name, token, baseURL string) {
	if token == "" {
		fmt.Printf("    %-12s (no token)\n", name+":")
		return
	}
	info, err := chat.NewSlackClient(token, baseURL).AuthTest(ctx)
	if err != nil {
		fmt.Printf("    %-12s AUTH FAILED (%s)\n", name+":", err)
		return
	}
	fmt.Printf("    %-12s @%s (%s)\n", name+":", info.User, info.UserID)
}

func checkDir(name, path string) {
	fmt.Printf("  %s: %s", name, path)
	if _, err := os.Stat(path); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
