// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/engine"
	"github.com/xkilldash9x/crucible/internal/llmclient"
	"github.com/xkilldash9x/crucible/internal/observability"
	"github.com/xkilldash9x/crucible/internal/sink"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [task description]",
		Short: "Runs a full content-generation tournament for the given task",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so CLI flags correctly override
			// values from the config file and environment.
			if err := viper.BindPFlag("engine.process_depth", cmd.Flags().Lookup("depth")); err != nil {
				return err
			}
			if err := viper.BindPFlag("engine.population_scale", cmd.Flags().Lookup("scale")); err != nil {
				return err
			}
			if err := viper.BindPFlag("engine.use_case", cmd.Flags().Lookup("use-case")); err != nil {
				return err
			}
			if err := viper.BindPFlag("engine.enable_parallel_execution", cmd.Flags().Lookup("parallel")); err != nil {
				return err
			}
			if err := viper.BindPFlag("llm.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			cfg.Run.TaskDescription = args[0]
			cfg.Run.DomainContext = viper.GetString("run.domain_context")
			cfg.Run.Output = viper.GetString("run.output")

			factory, err := llmclient.NewFactory(cfg.LLM, logger)
			if err != nil {
				return err
			}
			caller := llmclient.NewCaller(factory, llmclient.CallerOptions{
				MaxRetries:  cfg.LLM.MaxRetries,
				BaseDelay:   cfg.LLM.BaseDelay,
				CallTimeout: cfg.LLM.APITimeout,
				RatePerSec:  cfg.LLM.RatePerSec,
				Isolated:    cfg.LLM.Isolated,
			}, logger)

			prompts, err := engine.NewTemplateSupplier()
			if err != nil {
				return err
			}

			var resultSink schemas.ResultSink = sink.Noop{}
			if cfg.Sink.Type == "postgres" {
				pool, err := pgxpool.New(ctx, cfg.Sink.Postgres.URL)
				if err != nil {
					return fmt.Errorf("failed to connect archival sink: %w", err)
				}
				defer pool.Close()
				pgSink, err := sink.NewPostgres(ctx, pool, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize archival sink: %w", err)
				}
				defer func() {
					flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					if err := pgSink.Close(flushCtx); err != nil {
						logger.Warn("Archival sink flush incomplete", zap.Error(err))
					}
				}()
				resultSink = pgSink
			}

			machine, err := engine.New(cfg, logger, caller, prompts, resultSink)
			if err != nil {
				return err
			}

			input := schemas.RunInput{
				TaskDescription: cfg.Run.TaskDescription,
				DomainContext:   cfg.Run.DomainContext,
				UseCase:         cfg.Engine.UseCase,
				ProcessDepth:    cfg.Engine.ProcessDepth,
				PopulationScale: cfg.Engine.PopulationScale,
				ModelName:       cfg.LLM.Model,
			}

			output, err := machine.Run(ctx, input)
			if err != nil {
				return fmt.Errorf("tournament run failed: %w", err)
			}

			logger.Info("Run finished",
				zap.String("run_id", output.RunID),
				zap.Int("final_representatives", len(output.FinalRepresentatives)),
				zap.Int("provider_calls", output.Statistics.TotalProviderCalls),
			)
			return writeOutput(cfg.Run.Output, output)
		},
	}

	runCmd.Flags().String("depth", "", "process depth: quick, standard, comprehensive or custom")
	runCmd.Flags().String("scale", "", "population scale: light, medium or heavy")
	runCmd.Flags().String("use-case", "", "use case selecting critique domains and evolution strategies")
	runCmd.Flags().String("model", "", "provider model name")
	runCmd.Flags().Bool("parallel", true, "enable parallel task execution")
	runCmd.Flags().StringP("output", "o", "", "write the run output JSON to a file instead of stdout")
	runCmd.Flags().String("domain-context", "", "additional domain context for the generators")
	viper.BindPFlag("run.output", runCmd.Flags().Lookup("output"))
	viper.BindPFlag("run.domain_context", runCmd.Flags().Lookup("domain-context"))

	return runCmd
}

// writeOutput renders the run output as indented JSON to the chosen target.
func writeOutput(path string, output *schemas.RunOutput) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run output: %w", err)
	}
	if path == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write run output: %w", err)
	}
	return nil
}
