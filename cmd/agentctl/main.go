package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/config"
	"github.com/Kocoro-lab/leadflow/internal/registry"
	"github.com/Kocoro-lab/leadflow/internal/tools"
)

const defaultServer = "http://localhost:3000"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "Run lead workflows and probe the tool service",
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringP("server", "s", envOr("MCP_SERVER_URL", defaultServer), "Tool service URL")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log to stderr")

	rootCmd.AddCommand(
		executeCmd(),
		leadCmd(),
		healthCmd(),
	)
	return rootCmd
}

func executeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <objective>",
		Short: "Plan and execute a workflow for the objective",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objective := strings.Join(args, " ")
			agent, err := buildAgent(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			server, _ := cmd.Flags().GetString("server")
			fmt.Fprintf(out, "Executing objective: %s\n", objective)
			fmt.Fprintf(out, "Tool service: %s\n", server)

			report, err := agent.Engine.Run(cmd.Context(), objective)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\nWorkflow completed (run %s)\n", report.RunID)
			if report.Degraded {
				fmt.Fprintln(out, "Planner output was unusable; ran the fallback plan.")
			}
			fmt.Fprintln(out, "\nPlan:")
			for i, step := range report.Plan {
				fmt.Fprintf(out, "  %d. %s\n", i+1, step)
			}
			fmt.Fprintln(out, "\nResults:")
			for i, res := range report.Results {
				fmt.Fprintf(out, "  %d. [%s] %s\n", i+1, res.Kind, res.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringP("key", "k", "", "HMAC secret (defaults to the resolved HMAC_SECRET)")
	return cmd
}

func leadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Create a lead directly through the tool service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := buildAgent(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			var lead tools.LeadRequest
			lead.FirstName, _ = f.GetString("first-name")
			lead.LastName, _ = f.GetString("last-name")
			lead.Email, _ = f.GetString("email")
			lead.Company, _ = f.GetString("company")
			lead.Phone, _ = f.GetString("phone")
			lead.LeadSource, _ = f.GetString("source")
			lead.Description, _ = f.GetString("description")

			tool := tools.NewCreateLeadTool(agent.Invoker)
			res := tool.Create(cmd.Context(), lead)
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if !res.OK() {
				return fmt.Errorf("lead was not created")
			}
			return nil
		},
	}
	cmd.Flags().StringP("key", "k", "", "HMAC secret (defaults to the resolved HMAC_SECRET)")
	cmd.Flags().String("first-name", "", "First name")
	cmd.Flags().String("last-name", "", "Last name")
	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().String("company", "", "Company")
	cmd.Flags().String("phone", "", "Phone number")
	cmd.Flags().String("source", "", "Lead source (default API)")
	cmd.Flags().String("description", "", "Free-form description")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the health of the tool service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("tool service health check failed: %w", err)
			}
			defer resp.Body.Close()

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("tool service health check failed: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("tool service health check failed: status %d", resp.StatusCode)
			}
			pretty, _ := json.Marshal(body)
			fmt.Fprintf(cmd.OutOrStdout(), "Tool service is healthy: %s\n", pretty)
			return nil
		},
	}
}

// buildAgent loads the agent configuration with the command's flags applied.
func buildAgent(cmd *cobra.Command) (*registry.Agent, error) {
	server, _ := cmd.Flags().GetString("server")
	key, _ := cmd.Flags().GetString("key")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(config.SideAgent, func(c *config.Config) {
		if server != "" {
			c.ToolService.BaseURL = server
		}
		if key != "" {
			c.Secrets.HMACSecret = key
		}
	})
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	return registry.NewAgent(cfg, logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
