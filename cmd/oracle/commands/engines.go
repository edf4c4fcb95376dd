package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/F1J197/flow-oracle-sub007/internal/engineconfig"
)

// enginesCmd represents the engines command
var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "등록된 엔진 목록",
	Long: `엔진 매니페스트(ENGINE_CONFIG 또는 기본값)를 읽어
등록될 엔진과 의존성을 출력합니다.

Example:
  go run ./cmd/oracle engines
  ENGINE_CONFIG=config/engines.yaml go run ./cmd/oracle engines`,
	RunE: runEngines,
}

// tiersCmd represents the tiers command
var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "실행 tier 계산 결과",
	Long: `의존성 그래프로부터 계산된 실행 tier를 출력합니다.
같은 tier의 엔진은 병렬로 실행됩니다.

Example:
  go run ./cmd/oracle tiers`,
	RunE: runTiers,
}

func init() {
	rootCmd.AddCommand(enginesCmd)
	rootCmd.AddCommand(tiersCmd)
}

func runEngines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, cmd.ErrOrStderr())

	_, registry, _, err := buildRegistry(cfg, nil, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	plan := registry.Plan()

	rows := make([][]string, 0, plan.Len())
	for _, c := range registry.Configs() {
		deps := "-"
		if len(c.DependsOn) > 0 {
			deps = strings.Join(c.DependsOn, ",")
		}
		rows = append(rows, []string{
			c.ID,
			c.Name,
			c.Pillar,
			strconv.Itoa(c.Priority),
			strconv.Itoa(plan.TierOf(c.ID)),
			c.RefreshInterval.String(),
			deps,
		})
	}

	PrintHeader(out, "Registered Engines")
	PrintTable(out, []string{"ID", "NAME", "PILLAR", "PRIORITY", "TIER", "TIMEOUT", "DEPENDS_ON"}, rows)
	return nil
}

func runTiers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, cmd.ErrOrStderr())

	manifest, registry, _, err := buildRegistry(cfg, nil, log)
	if err != nil {
		return err
	}
	hash, err := engineconfig.Hash(manifest)
	if err != nil {
		return fmt.Errorf("hash manifest: %w", err)
	}

	out := cmd.OutOrStdout()
	PrintHeader(out, "Execution Tiers")
	PrintKeyValue(out, "Manifest", manifest.Version, 8)
	PrintKeyValue(out, "Hash", hash[:12], 8)
	PrintSeparator(out)

	for i, tier := range registry.Plan().Tiers {
		fmt.Fprintf(out, "  Tier %d : %s\n", i, strings.Join(tier, ", "))
	}
	return nil
}
