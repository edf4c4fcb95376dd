package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
	"github.com/F1J197/flow-oracle-sub007/internal/engine"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "엔진 1회 실행",
	Long: `스냅샷을 한 번 읽어 전체 사이클(또는 단일 엔진)을 실행하고
결과를 출력합니다. 영속화/미러가 켜져 있으면 결과를 저장합니다.

Example:
  go run ./cmd/oracle run
  go run ./cmd/oracle run --engine zscore
  go run ./cmd/oracle run --json`,
	RunE: runOnce,
}

var (
	runEngine  string
	runJSON    bool
	runTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	// Flags
	runCmd.Flags().StringVar(&runEngine, "engine", "", "단일 엔진만 실행")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "JSON으로 출력")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "실행 제한 시간")
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	snap, err := a.provider.GetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("get snapshot: %w", err)
	}

	var results map[string]*contracts.ExecutionResult
	if runEngine != "" {
		res, err := a.orchestrator.ExecuteOne(ctx, runEngine, snap)
		if err != nil {
			return fmt.Errorf("run %s: %w", runEngine, err)
		}
		results = map[string]*contracts.ExecutionResult{res.EngineID: res}
	} else {
		events, unsubscribe := a.orchestrator.Subscribe()
		defer unsubscribe()

		results, err = a.orchestrator.ExecuteAll(ctx, snap)
		if err != nil {
			return fmt.Errorf("execute cycle: %w", err)
		}
		// ExecuteAll은 반환 전에 이벤트를 발행함
		a.recordCycle(ctx, <-events)
	}

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printResults(out, a.registry.Plan(), results)
	return nil
}

func printResults(w io.Writer, plan *engine.Plan, results map[string]*contracts.ExecutionResult) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := plan.TierOf(ids[i]), plan.TierOf(ids[j])
		if ti != tj {
			return ti < tj
		}
		return ids[i] < ids[j]
	})

	rows := make([][]string, 0, len(ids))
	var failed int
	for _, id := range ids {
		res := results[id]
		row := []string{id, strconv.Itoa(plan.TierOf(id)), "-", "-", "-", "ok", res.Elapsed.Round(time.Millisecond).String()}
		if res.Output != nil {
			row[2] = string(res.Output.Signal)
			row[3] = strconv.FormatFloat(res.Output.Primary.Value, 'f', 4, 64)
			row[4] = strconv.FormatFloat(res.Output.Confidence, 'f', 1, 64)
		}
		if !res.Success {
			row[5] = "FAILED (" + string(res.ErrorKind) + ")"
			failed++
		}
		rows = append(rows, row)
	}

	PrintHeader(w, "Execution Results")
	PrintTable(w, []string{"ENGINE", "TIER", "SIGNAL", "VALUE", "CONF", "STATUS", "ELAPSED"}, rows)
	PrintSeparator(w)

	if failed > 0 {
		PrintWarning(w, fmt.Sprintf("%d of %d engines failed", failed, len(ids)))
		for _, id := range ids {
			if res := results[id]; !res.Success {
				PrintError(w, fmt.Sprintf("%s: %s", id, res.Error))
			}
		}
		return
	}
	PrintSuccess(w, fmt.Sprintf("%d engines completed", len(ids)))
}
