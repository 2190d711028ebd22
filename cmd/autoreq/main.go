package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rahul/autoreq/internal/agent"
	"github.com/rahul/autoreq/internal/gateway"
	"github.com/rahul/autoreq/internal/observability"
	"github.com/rahul/autoreq/internal/pipeline"
	"github.com/rahul/autoreq/internal/report"
	"github.com/rahul/autoreq/internal/store"
	"github.com/rahul/autoreq/pkg/config"
)

var (
	cfgFile     string
	promptsPath string
	outputDir   string
	topic       string
	concurrency int
	logLevel    string
	logFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "autoreq",
	Short: "Plan a topic into steps and draft reviewed requirements for each",
	Long: `autoreq asks a planner model to break a topic into ordered steps, then runs an
analyst/reviewer loop per step until the reviewer approves a structured
requirements artifact. Approved artifacts are merged into one report.

Round caps (run.plan_max_rounds, run.step_max_rounds) count model turns; the
opening message is not a round, so a step cap of 10 allows 10 model replies.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan the topic and draft requirements for every step",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			observability.PrintBanner(os.Stdout, a.pipeline.RunID)
			res, err := a.pipeline.Execute(ctx, topic)
			if err != nil {
				a.finish(ctx, "failed")
				return err
			}
			a.finish(ctx, "completed")
			observability.PrintStatus(os.Stdout, a.pipeline.Tracker)
			observability.PrintSummary(os.Stdout, observability.Summary{
				RunID:    res.RunID,
				Steps:    len(res.Steps),
				Records:  len(res.Report.Records),
				Skipped:  res.Report.Skipped,
				Dropped:  len(res.Report.Diagnostics),
				Warnings: res.Warnings,
			})
			return nil
		})
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Only run the planner and write the generated plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			steps, err := a.pipeline.Plan(ctx, topic)
			if err != nil {
				a.finish(ctx, "failed")
				return err
			}
			a.finish(ctx, "planned")
			fmt.Print(report.PlanText(steps))
			return nil
		})
	},
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect the prompt configuration",
}

var promptsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate that every required prompt is present",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, err := agent.LoadPrompts(cfg.Run.PromptsPath); err != nil {
			return err
		}
		fmt.Printf("%s: ok\n", cfg.Run.PromptsPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file (JSON, optional)")
	rootCmd.PersistentFlags().StringVar(&promptsPath, "prompts", "", "prompts YAML file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outputDir, "out", "", "output directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&topic, "topic", "", "seed message for the planner (defaults to example_message)")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "maximum steps in flight (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	promptsCmd.AddCommand(promptsCheckCmd)
	rootCmd.AddCommand(runCmd, planCmd, promptsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "\033[91m[ FAIL ] %v\033[0m\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if promptsPath != "" {
		cfg.Run.PromptsPath = promptsPath
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if concurrency > 0 {
		cfg.Run.MaxConcurrency = concurrency
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, cfg.Validate()
}

type app struct {
	pipeline *pipeline.Pipeline
	writer   *store.RunWriter
	closers  []func() error
}

func (a *app) finish(ctx context.Context, status string) {
	if a.writer == nil {
		return
	}
	if err := a.writer.Finish(context.WithoutCancel(ctx), status); err != nil {
		a.pipeline.Logger.Warnf("failed to finish run record: %v", err)
	}
}

// withApp builds every collaborator from configuration, runs fn and tears
// everything down again.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.Options{
		Out:        observability.NewTermWriter(os.Stderr),
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		LLMLogPath: cfg.Log.LLMLogPath,
	})

	prompts, err := agent.LoadPrompts(cfg.Run.PromptsPath)
	if err != nil {
		return err
	}

	shutdown, err := observability.SetupTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warnf("failed to flush traces: %v", err)
		}
	}()

	model, err := agent.NewOpenAIModel(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	a := &app{
		pipeline: &pipeline.Pipeline{
			Client:    agent.NewClient(model, agent.ClientOptionsFromConfig(cfg.LLM)),
			Prompts:   prompts,
			Run:       cfg.Run,
			Sinks:     []report.Sink{report.NewFileSink(cfg.Output.Dir)},
			Tracker:   observability.NewTracker(),
			Logger:    logger,
			OutputDir: cfg.Output.Dir,
			RunID:     uuid.NewString(),
		},
	}
	defer func() {
		for _, c := range a.closers {
			_ = c()
		}
	}()

	if cfg.Memory.Path != "" {
		ts, err := store.NewTranscriptStore(cfg.Memory.Path)
		if err != nil {
			return fmt.Errorf("failed to open transcript store: %w", err)
		}
		a.closers = append(a.closers, ts.Close)

		w, err := ts.BeginRun(ctx, a.pipeline.RunID, topic)
		if err != nil {
			return err
		}
		a.writer = w
		a.pipeline.Recorder = w
		a.pipeline.Sinks = append(a.pipeline.Sinks, w)
	}

	a.pipeline.Notifier = buildNotifier(cfg.Notify, logger)

	return fn(ctx, a)
}

func buildNotifier(cfg config.NotifyConfig, logger *observability.Logger) gateway.Notifier {
	var (
		multi gateway.Multi
		errs  []error
	)
	if cfg.Telegram.Enabled {
		tg, err := gateway.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			errs = append(errs, fmt.Errorf("telegram: %w", err))
		} else {
			multi = append(multi, tg)
		}
	}
	if cfg.Discord.Enabled {
		dc, err := gateway.NewDiscordNotifier(cfg.Discord.Token, cfg.Discord.ChannelID)
		if err != nil {
			errs = append(errs, fmt.Errorf("discord: %w", err))
		} else {
			multi = append(multi, dc)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warnf("notifications disabled: %v", err)
	}
	if len(multi) == 0 {
		return nil
	}
	return multi
}
