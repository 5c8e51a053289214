package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/twinfra/tracetwin/internal/app"
	"github.com/twinfra/tracetwin/internal/calibration"
	"github.com/twinfra/tracetwin/internal/config"
	"github.com/twinfra/tracetwin/internal/ingest"
	"github.com/twinfra/tracetwin/internal/journal"
	"github.com/twinfra/tracetwin/internal/msglog"
	"github.com/twinfra/tracetwin/internal/observability"
	"github.com/twinfra/tracetwin/internal/scenario"
	"github.com/twinfra/tracetwin/internal/server"
	"github.com/twinfra/tracetwin/internal/sim"
	"github.com/twinfra/tracetwin/internal/store"
	"github.com/twinfra/tracetwin/internal/trace"
)

func newImportTracesCommand() *cobra.Command {
	var recreate bool
	cmd := &cobra.Command{
		Use:   "import-traces DB TRACEFILE",
		Short: "Import a trace log file into a trace database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.OpenSQLite(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			mode := store.Append
			if recreate {
				mode = store.Recreate
			}
			rows, err := ingest.IngestFile(cmd.Context(), s, args[1], mode)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d events into %s\n", rows, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false,
		"drop existing events instead of appending")
	return cmd
}

func newAnalyzeTracesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze-traces TRACEFILE...",
		Short: "Print component and timing statistics for trace log files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if err := analyzeFile(path); err != nil {
					log.Error().Err(err).Str("file", path).Msg("Analysis failed")
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be analyzed", failed, len(args))
			}
			return nil
		},
	}
}

func analyzeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := trace.ReadLog(f)
	if err != nil {
		return err
	}
	fmt.Printf("=== %s\n", path)
	return trace.WriteReport(os.Stdout, events)
}

func newImportDeploymentCommand() *cobra.Command {
	var (
		messageFile  string
		scenarioFile string
		solutionFile string
	)
	cmd := &cobra.Command{
		Use:   "import-deployment DB",
		Short: "Create a deployment scenario database",
		Long: `Create a deployment scenario database, either from a CSV scenario file
or from an app creation message, optionally rewritten with a solver
solution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var components []scenario.Component
			switch {
			case scenarioFile != "":
				if solutionFile != "" {
					log.Warn().
						Str("solution", solutionFile).
						Msg("Solver solutions only apply to app creation messages, ignoring")
				}
				f, err := os.Open(scenarioFile)
				if err != nil {
					return fmt.Errorf("could not read deployment scenario file: %w", err)
				}
				defer f.Close()
				components, err = scenario.ParseCSV(f)
				if err != nil {
					return err
				}
			case messageFile != "":
				var err error
				components, err = componentsFromMessage(messageFile, solutionFile)
				if err != nil {
					return err
				}
			}

			s, err := scenario.Open(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Replace(cmd.Context(), components)
		},
	}
	cmd.Flags().StringVarP(&messageFile, "app-creation-message", "m", "",
		"file containing the app creation message")
	cmd.Flags().StringVarP(&scenarioFile, "deployment-file", "d", "",
		"CSV file containing a deployment scenario")
	cmd.Flags().StringVarP(&solutionFile, "solution", "s", "",
		"file containing a solver message with machine configurations")
	cmd.MarkFlagsMutuallyExclusive("app-creation-message", "deployment-file")
	cmd.MarkFlagsOneRequired("app-creation-message", "deployment-file")
	return cmd
}

func componentsFromMessage(messageFile, solutionFile string) ([]scenario.Component, error) {
	raw, err := os.ReadFile(messageFile)
	if err != nil {
		return nil, fmt.Errorf("could not read app creation message file: %w", err)
	}
	a, err := app.FromAppMessage(raw)
	if err != nil {
		return nil, err
	}

	kubevela := a.Kubevela()
	if solutionFile != "" {
		rawSolution, err := os.ReadFile(solutionFile)
		if err != nil {
			return nil, fmt.Errorf("could not read solver solution file: %w", err)
		}
		var solution struct {
			Application    string         `json:"application"`
			VariableValues map[string]any `json:"VariableValues"`
		}
		if err := json.Unmarshal(rawSolution, &solution); err != nil {
			return nil, fmt.Errorf("could not parse solver solution: %w", err)
		}
		if solution.Application == "" {
			return nil, fmt.Errorf("solver solution does not contain 'application' property")
		}
		if solution.Application != a.UUID {
			return nil, fmt.Errorf("solver solution is for app id %s, message is for app id %s",
				solution.Application, a.UUID)
		}
		kubevela = a.RewriteWithSolution(solution.VariableValues)
	}

	reqs := app.ComponentRequirements(kubevela)
	components := make([]scenario.Component, 0, len(reqs))
	for _, r := range reqs {
		components = append(components, scenario.Component{
			Name:     r.Name,
			Cores:    r.Cores,
			Memory:   r.Memory,
			Replicas: r.Replicas,
		})
	}
	return components, nil
}

func newImportCalibrationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import-calibration DB CSVFILE",
		Short: "Create a calibration database from per-component cost factors",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("could not read calibration file: %w", err)
			}
			defer f.Close()
			factors, err := calibration.ParseCSV(f)
			if err != nil {
				return err
			}

			s, err := calibration.Open(args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Replace(cmd.Context(), factors)
		},
	}
}

func newSimulateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate TRACEDB SCENARIODB CALIBRATIONDB",
		Short: "Execute one simulation run",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := sim.Run(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the twin as a long-lived service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Command-line verbosity wins over the configured level.
			if verbosity == 0 {
				observability.InitLogger(cfg.LogLevel, cfg.LogFile)
			}
			if logDir != "" {
				cfg.MessageLogDir = logDir
			}

			if cfg.TracingEnabled {
				shutdown, err := observability.InitTracer(observability.TracerConfig{
					ServiceName:    "tracetwin",
					ServiceVersion: "0.1.0",
					Endpoint:       cfg.OTLPEndpoint,
					Protocol:       cfg.OTLPProtocol,
					Enabled:        true,
				})
				if err != nil {
					log.Error().Err(err).Msg("Failed to initialize tracer")
				} else {
					defer shutdown(context.Background())
				}
			}

			s, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			j, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer j.Close()

			msgs, err := msglog.New(cfg.MessageLogDir)
			if err != nil {
				return fmt.Errorf("could not create message log directory: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().Str("version", "0.1.0").Msg("Starting tracetwin server")
			return server.New(cfg, s, j, msgs).Run(ctx)
		},
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.EventStore, error) {
	switch cfg.StoreBackend {
	case config.BackendClickHouse:
		return store.OpenClickHouse(ctx, store.ClickHouseConfig{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		})
	default:
		return store.OpenSQLite(cfg.TraceDBPath)
	}
}
