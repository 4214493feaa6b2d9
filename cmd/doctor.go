package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/spf13/cobra"

	"github.com/nekrassov01/instancebot/internal/actions"
	"github.com/nekrassov01/instancebot/internal/config"
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
	fmt.Println("instancebot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
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
	checkSecret("Slack bot token", cfg.Slack.BotToken)
	checkSecret("Slack signing secret", cfg.Slack.SigningSecret)
	checkSecret("Anthropic API key", cfg.Providers.Anthropic.APIKey)
	checkSecret("OpenAI API key", cfg.Providers.OpenAI.APIKey)
	checkSecret("Postgres DSN", cfg.Sessions.PostgresDSN)

	fmt.Println()
	fmt.Println("  AWS:")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Printf("    credentials: NOT AVAILABLE (%s)\n", err)
		return
	}
	fmt.Println("    credentials: OK")

	if len(cfg.Actions.Regions) > 0 {
		fmt.Printf("    regions:     %d configured\n", len(cfg.Actions.Regions))
		return
	}
	regions, err := actions.DiscoverRegions(ctx, ec2.NewFromConfig(awsCfg))
	if err != nil {
		fmt.Printf("    regions:     DISCOVERY FAILED (%s)\n", err)
		return
	}
	fmt.Printf("    regions:     %d discovered\n", len(regions))
}

func checkSecret(name, value string) {
	status := "NOT SET"
	if value != "" {
		status = "set"
	}
	fmt.Printf("    %-22s %s\n", name+":", status)
}
