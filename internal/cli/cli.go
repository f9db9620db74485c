package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanfawwaz/IBMxORCHESTRATE/internal/config"
	internal_http "github.com/khanfawwaz/IBMxORCHESTRATE/internal/http"
	"github.com/khanfawwaz/IBMxORCHESTRATE/internal/log"
	internal_storage "github.com/khanfawwaz/IBMxORCHESTRATE/internal/storage"
	"github.com/khanfawwaz/IBMxORCHESTRATE/internal/warehouse"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/agent"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/service"
)

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Postgres connection string for the run archive (optional)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP server with the demo warehouse agents",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				port = cfg.Port
			}
			svc := buildService(cmd, cfg)
			if err := internal_http.StartServer(port, svc); err != nil {
				log.GetLogger().Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "", "Port to listen on (default from PORT env, 8080)")
	serveCmd.Flags().String("workflows", "", "YAML file with workflow definitions")

	runCmd := &cobra.Command{
		Use:   "run [workflow-id]",
		Short: "Execute a workflow once against the demo warehouse agents",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			svc := buildService(cmd, cfg)

			runCtx := models.RunContext{}
			inputs, _ := cmd.Flags().GetStringSlice("input")
			for _, kv := range inputs {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					fmt.Fprintf(os.Stderr, "Error: invalid --input '%s', expected key=value\n", kv)
					os.Exit(1)
				}
				runCtx[parts[0]] = parts[1]
			}

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			run, err := svc.Execute(ctx, args[0], runCtx)
			if err != nil {
				log.GetLogger().Errorf("Failed to execute workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to execute workflow: %v\n", err)
				os.Exit(1)
			}
			printJSON(run)
		},
	}
	runCmd.Flags().String("workflows", "", "YAML file with workflow definitions")
	runCmd.Flags().StringSlice("input", nil, "Run context entries as key=value (repeatable)")
	runCmd.Flags().Duration("timeout", 0, "Run-level timeout (0 = none)")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate workflow definitions and print their execution layers",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			workflows, err := config.LoadWorkflows(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			for _, wf := range workflows {
				layers, err := service.ResolveLayers(wf)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: workflow '%s': %v\n", wf.ID, err)
					os.Exit(1)
				}
				fmt.Fprintf(os.Stdout, "Workflow '%s' (%d steps):\n", wf.ID, len(wf.Steps))
				for i, layer := range layers {
					fmt.Fprintf(os.Stdout, "  layer %d: %s\n", i, strings.Join(layer, ", "))
				}
			}
		},
	}

	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "List the registered agents and their capabilities",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			svc := buildService(cmd, cfg)
			for _, snap := range svc.AgentSnapshots() {
				fmt.Fprintf(os.Stdout, "- %s (%s) capabilities=[%s]\n",
					snap.AgentID, snap.Name, strings.Join(snap.Capabilities, ", "))
			}
		},
	}
	agentsCmd.Flags().String("workflows", "", "YAML file with workflow definitions")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List archived runs",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := store.ListRuns(limit)
			if err != nil {
				log.GetLogger().Errorf("Failed to list runs: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list runs: %v\n", err)
				os.Exit(1)
			}
			if len(runs) == 0 {
				fmt.Fprintf(os.Stdout, "No runs found.\n")
				return
			}
			for _, run := range runs {
				fmt.Fprintf(os.Stdout, "- %s workflow=%s status=%s confidence=%.2f started=%s\n",
					run.RunID, run.WorkflowID, run.Status, run.OverallConfidence,
					run.StartedAt.Format(time.RFC3339))
			}
		},
	}
	historyCmd.Flags().Int("limit", 10, "Maximum number of runs to list")

	showCmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one archived run with its step results",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			run, err := store.GetRun(args[0])
			if err != nil {
				log.GetLogger().Errorf("Failed to get run: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to get run: %v\n", err)
				os.Exit(1)
			}
			printJSON(run)
		},
	}

	rootCmd.AddCommand(serveCmd, runCmd, validateCmd, agentsCmd, historyCmd, showCmd)
}

// buildService wires the demo agent set, the configured workflows, and the
// optional run archive into an orchestrator service.
func buildService(cmd *cobra.Command, cfg config.Config) *service.OrchestratorService {
	registry := agent.NewRegistry()
	if err := warehouse.RegisterAgents(registry); err != nil {
		log.GetLogger().Errorf("Failed to register agents: %v", err)
		os.Exit(1)
	}

	svcCfg := service.Config{
		Aggregator: service.AggregatorConfig{HistoryCapacity: cfg.HistoryCapacity},
	}
	if connStr := dbConnStr(cmd, cfg); connStr != "" {
		store, err := internal_storage.InitStore(connStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		svcCfg.Archive = store
	}

	svc := service.NewOrchestratorService(registry, svcCfg, log.GetLogger())

	workflowsFile, _ := cmd.Flags().GetString("workflows")
	if workflowsFile == "" {
		workflowsFile = cfg.WorkflowsFile
	}
	if workflowsFile != "" {
		workflows, err := config.LoadWorkflows(workflowsFile)
		if err != nil {
			log.GetLogger().Errorf("Failed to load workflows: %v", err)
			os.Exit(1)
		}
		for _, wf := range workflows {
			if err := svc.RegisterWorkflow(wf); err != nil {
				log.GetLogger().Errorf("Failed to register workflow '%s': %v", wf.ID, err)
				os.Exit(1)
			}
		}
	} else {
		if err := svc.RegisterWorkflow(warehouse.AnalysisWorkflow()); err != nil {
			log.GetLogger().Errorf("Failed to register default workflow: %v", err)
			os.Exit(1)
		}
	}
	return svc
}

func dbConnStr(cmd *cobra.Command, cfg config.Config) string {
	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		connStr = cfg.DatabaseURL
	}
	return connStr
}

func initStore(cmd *cobra.Command) *internal_storage.PostgresStore {
	connStr := dbConnStr(cmd, config.Load())
	if connStr == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag or DATABASE_URL required")
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(connStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encode output: %v\n", err)
		os.Exit(1)
	}
}
