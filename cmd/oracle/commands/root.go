package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Flow Oracle - 시장 지표 분석 엔진",
	Long: `Flow Oracle Unified CLI

등록된 분석 엔진을 의존성 tier 순서로 실행하고
결과를 API, WebSocket, Prometheus로 노출합니다.

Usage:
  go run ./cmd/oracle [command]

Examples:
  go run ./cmd/oracle serve
  go run ./cmd/oracle run
  go run ./cmd/oracle run --engine zscore
  go run ./cmd/oracle engines
  go run ./cmd/oracle tiers`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
