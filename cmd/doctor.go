package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/craftline/waroute/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("waroute doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Secrets:")
	checkSecret("WAROUTE_VERIFY_TOKEN", cfg.Server.VerifyToken)
	checkSecret("WAROUTE_WA_ACCESS_TOKEN", cfg.WhatsApp.AccessToken)
	if cfg.Database.Mode == "postgres" {
		checkSecret("WAROUTE_POSTGRES_DSN", cfg.Database.PostgresDSN)
	}

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-10s %s\n", "Mode:", databaseMode(cfg))
	if cfg.Database.Mode == "postgres" && cfg.Database.PostgresDSN != "" {
		db, dbErr := sql.Open("pgx", cfg.Database.PostgresDSN)
		if dbErr != nil {
			fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", dbErr)
		} else if pingErr := db.Ping(); pingErr != nil {
			fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", pingErr)
			db.Close()
		} else {
			fmt.Printf("    %-10s OK\n", "Status:")
			db.Close()
		}
	}

	fmt.Println()
	fmt.Println("  Agent:")
	if cfg.Agent.BaseURL == "" {
		fmt.Printf("    %-10s NOT CONFIGURED\n", "URL:")
	} else {
		fmt.Printf("    %-10s %s\n", "URL:", cfg.Agent.BaseURL)
		checkReachable(cfg.Agent.BaseURL)
	}
}

func databaseMode(cfg *config.Config) string {
	if cfg.Database.Mode == "postgres" {
		return "postgres"
	}
	return "sqlite (standalone)"
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-28s MISSING\n", name+":")
		return
	}
	fmt.Printf("    %-28s set\n", name+":")
}

func checkReachable(baseURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		fmt.Printf("    %-10s INVALID URL (%s)\n", "Status:", err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("    %-10s UNREACHABLE (%s)\n", "Status:", err)
		return
	}
	resp.Body.Close()
	fmt.Printf("    %-10s reachable (HTTP %d)\n", "Status:", resp.StatusCode)
}
