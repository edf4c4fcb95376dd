package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/F1J197/flow-oracle-sub007/internal/api"
	"github.com/F1J197/flow-oracle-sub007/internal/api/handlers"
	"github.com/F1J197/flow-oracle-sub007/internal/api/ws"
	"github.com/F1J197/flow-oracle-sub007/internal/scheduler/jobs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "API 서버 + 스케줄러 실행",
	Long: `REST API, WebSocket 스트림, /metrics를 제공하고
스케줄러로 주기적인 엔진 사이클을 실행합니다.

Example:
  go run ./cmd/oracle serve
  go run ./cmd/oracle serve --port 9090 --warmup`,
	RunE: runServe,
}

var (
	servePort   string
	serveWarmup bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	// Flags
	serveCmd.Flags().StringVar(&servePort, "port", "", "API 포트 (기본값: PORT 환경변수)")
	serveCmd.Flags().BoolVar(&serveWarmup, "warmup", false, "시작 시 사이클 1회 실행")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Wire components
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if servePort != "" {
		a.cfg.Port = servePort
	}
	log := a.log

	// 2. Cycle sinks: metrics/persistence/mirror, then websocket
	a.startCycleSink(ctx)

	hub := ws.New(log)
	events, unsubscribe := a.orchestrator.Subscribe()
	defer unsubscribe()
	go hub.Run(ctx, events)

	// 3. Scheduler
	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	if serveWarmup {
		res, err := sched.RunJob(jobs.RefreshJobName)
		if err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
		if !res.Success {
			log.WithField("error", res.Error).Warn("Warmup cycle failed")
		}
	}
	sched.Start()
	defer sched.Stop()

	// 4. HTTP API
	h := api.Handlers{
		Engine:   handlers.NewEngineHandler(a.orchestrator, a.provider, a.outputHistory(), a.cfg.API.RunRate, a.cfg.API.RunBurst, log),
		Pipeline: handlers.NewPipelineHandler(a.orchestrator, a.provider, a.cache, sched, log),
		Data:     a.dataHandler(),
		Stream:   hub,
	}
	if a.recorder != nil {
		h.Metrics = a.recorder.Handler()
	}
	server := api.New(a.cfg, log, api.NewRouter(h, log))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	}

	// 5. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info("Server stopped")
	return nil
}

// outputHistory returns nil (not a typed nil) when persistence is off
func (a *app) outputHistory() handlers.OutputHistory {
	if a.outputs == nil {
		return nil
	}
	return a.outputs
}

// dataHandler passes only the engines the manifest enabled
func (a *app) dataHandler() *handlers.DataHandler {
	var (
		integrity handlers.IntegrityReader
		zscores   handlers.ZScoreReader
	)
	if a.engines.Integrity != nil {
		integrity = a.engines.Integrity
	}
	if a.engines.ZScore != nil {
		zscores = a.engines.ZScore
	}
	return handlers.NewDataHandler(integrity, zscores, a.provider, a.log)
}
