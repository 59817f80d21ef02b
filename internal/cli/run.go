package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/superninja/internal/daemon"
	"github.com/harun/superninja/internal/logger"
	"github.com/harun/superninja/pkg/failure"
	"github.com/harun/superninja/pkg/orchestrator"
	"github.com/harun/superninja/pkg/task"
	"github.com/harun/superninja/pkg/workflow"
)

// submitFlags are shared by run and workflow.
var submitFlags struct {
	user    string
	tier    string
	asJSON  bool
	agent   string
	mode    string
	files   []string
	repo    string
	steps   string
	task    string
	members []string
}

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Submit one task to an agent and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run a multi-agent workflow from a JSON steps file",
	Long: `Run a multi-agent workflow. The steps file is a JSON array of
{"name", "agent", "task", "passResults"} objects executed in order.`,
	RunE: runWorkflow,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, workflowCmd} {
		c.Flags().StringVar(&submitFlags.user, "user", "cli", "user id the task runs as")
		c.Flags().StringVar(&submitFlags.tier, "tier", string(task.TierNinja), "subscription tier (ninja, ultra)")
		c.Flags().BoolVar(&submitFlags.asJSON, "json", false, "print the outcome as JSON")
	}

	runCmd.Flags().StringVar(&submitFlags.agent, "agent", "", "agent type to run the task on")
	runCmd.Flags().StringVar(&submitFlags.mode, "mode", string(task.ModeStandard), "task mode (standard, complex, fast)")
	runCmd.Flags().StringSliceVar(&submitFlags.files, "file", nil, "attached file name (repeatable)")
	runCmd.Flags().StringVar(&submitFlags.repo, "repo", "", "repository reference")
	_ = runCmd.MarkFlagRequired("agent")

	workflowCmd.Flags().StringVar(&submitFlags.steps, "steps", "", "path to the JSON steps file")
	workflowCmd.Flags().StringVar(&submitFlags.task, "task", "", "overall workflow description")
	workflowCmd.Flags().StringSliceVar(&submitFlags.members, "agents", nil, "agents allowed in the workflow")
	_ = workflowCmd.MarkFlagRequired("steps")
	_ = workflowCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workflowCmd)
}

// withOrchestrator builds an orchestrator from the config, runs fn and
// tears everything down again.
func withOrchestrator(cmd *cobra.Command, fn func(ctx context.Context, o *orchestrator.Orchestrator) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	st, err := daemon.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	o, err := daemon.NewOrchestrator(cfg, log.Zerolog(), orchestrator.WithStore(st))
	if err != nil {
		return err
	}
	defer closeOrchestrator(o, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, o)
}

func closeOrchestrator(o *orchestrator.Orchestrator, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to close orchestrator")
	}
}

func cliUser() (task.User, error) {
	tier := task.Tier(submitFlags.tier)
	if !tier.Valid() {
		return task.User{}, failure.Validation("unknown tier %q", submitFlags.tier)
	}
	return task.User{ID: submitFlags.user, Tier: tier}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	user, err := cliUser()
	if err != nil {
		return err
	}
	req := task.SubmitRequest{
		User:      user,
		AgentType: submitFlags.agent,
		Message:   strings.Join(args, " "),
		Mode:      submitFlags.mode,
		Files:     submitFlags.files,
		RepoRef:   submitFlags.repo,
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		out, err := o.SubmitTask(ctx, req)
		if err != nil {
			if out.TaskID != "" {
				return fmt.Errorf("task %s: %w", out.TaskID, err)
			}
			return err
		}
		if submitFlags.asJSON {
			return printJSON(cmd, out)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Result)
		return nil
	})
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	user, err := cliUser()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(submitFlags.steps)
	if err != nil {
		return fmt.Errorf("failed to read steps file: %w", err)
	}
	steps, err := workflow.ParseSteps(data)
	if err != nil {
		return err
	}
	req := workflow.Request{
		User:   user,
		Task:   submitFlags.task,
		Agents: submitFlags.members,
		Steps:  steps,
	}
	if err := workflow.Validate(req); err != nil {
		return err
	}

	return withOrchestrator(cmd, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		out, err := o.CoordinateWorkflow(ctx, req)
		var stepErr *workflow.StepError
		if err != nil && !errors.As(err, &stepErr) {
			return err
		}
		if submitFlags.asJSON {
			if perr := printJSON(cmd, out); perr != nil {
				return perr
			}
		} else {
			printResults(cmd, out)
		}
		return err
	})
}

func printResults(cmd *cobra.Command, out orchestrator.WorkflowOutcome) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Workflow %s\n", out.TaskID)
	for _, name := range out.Results.Keys() {
		r, _ := out.Results.Get(name)
		fmt.Fprintf(w, "\n== %s (%s, %d tokens, %s)\n%s\n", name, r.Agent, r.TokensUsed, r.ExecutionTime.Round(time.Millisecond), r.Content)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
