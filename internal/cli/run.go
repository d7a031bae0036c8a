package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ehsaniara/flowq/internal/flowq/classifier"
	"github.com/ehsaniara/flowq/internal/flowq/dispatch"
	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/events"
	"github.com/ehsaniara/flowq/internal/flowq/executor"
	"github.com/ehsaniara/flowq/internal/flowq/queue"
)

// planFile is the YAML document accepted by `flowq run`:
//
//	project: demo
//	user: alice
//	priority: high
//	timeout: 2m
//	max_retries: 1
//	context:
//	  workflowId: wf-42
//	steps:
//	  - name: ExecuteCommandStep
//	    metadata:
//	      command: make build
//	  - name: RenderChart
//	    required: false
//	    metadata:
//	      command: ./render.sh
type planFile struct {
	Project    string                  `yaml:"project"`
	User       string                  `yaml:"user"`
	Priority   string                  `yaml:"priority"`
	Timeout    time.Duration           `yaml:"timeout"`
	MaxRetries *int                    `yaml:"max_retries"`
	Context    domain.ExecutionContext `yaml:"context"`
	Workflow   map[string]any          `yaml:"workflow"`
	Steps      []domain.StepSpec       `yaml:"steps"`
}

type runOptions struct {
	file    string
	project string
	user    string
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run -f PLAN",
		Short: "Classify, queue and execute a plan locally",
		Long: `Load a YAML plan, classify its steps, admit it to an in-process queue and
execute it. Steps run their metadata.command through /bin/sh. The command
fails when the item does not complete.`,
		Example: `  flowq run -f plan.yml
  flowq run -f plan.yml --project demo --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlanFile(ro.file)
			if err != nil {
				return err
			}
			if ro.project != "" {
				plan.Project = ro.project
			}
			if ro.user != "" {
				plan.User = ro.user
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), opts, plan)
		},
	}

	cmd.Flags().StringVarP(&ro.file, "file", "f", "", "Plan file (YAML)")
	cmd.Flags().StringVar(&ro.project, "project", "", "Override the plan's project id")
	cmd.Flags().StringVar(&ro.user, "user", "", "Override the submitting user id")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func loadPlanFile(path string) (*planFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan planFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if plan.Project == "" {
		plan.Project = "default"
	}
	if plan.User == "" {
		plan.User = currentUser()
	}
	return &plan, nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "flowq"
}

func runPlan(ctx context.Context, w io.Writer, opts *rootOptions, plan *planFile) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.cfg

	priority, err := domain.ParsePriority(plan.Priority)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	if cfg.Events.JournalPath != "" {
		journal, err := events.OpenJournal(cfg.Events.JournalPath)
		if err != nil {
			return err
		}
		if err := journal.Attach(bus); err != nil {
			_ = journal.Close()
			return err
		}
		defer journal.Close()
	}

	m := queue.NewManager(cfg.Queue,
		queue.WithPublisher(bus),
		queue.WithClassifier(classifier.New()),
	)
	defer m.Close()

	item, err := m.Submit(ctx, plan.Project, plan.User, plan.Steps, plan.Context, plan.Workflow, queue.AdmitOptions{
		Priority:   &priority,
		MaxRetries: plan.MaxRetries,
		TimeoutMs:  plan.Timeout.Milliseconds(),
	})
	if err != nil {
		return err
	}

	claimed, ok := m.Claim(ctx)
	if !ok || claimed.ID != item.ID {
		return fmt.Errorf("queue item %s could not be started", item.ID)
	}

	registry := executor.NewRegistry()
	registry.SetFallback(executor.NewCommandExecutor(w))
	runner := dispatch.NewRunner(m, registry, cfg.Queue)

	final, runErr := runner.Run(ctx, claimed)
	if final == nil {
		final, _ = m.GetStatus(plan.Project, item.ID)
	}
	if final != nil {
		if err := printItem(w, opts.jsonOutput, final); err != nil {
			return err
		}
	}
	return runErr
}

func printItem(w io.Writer, asJSON bool, item *domain.QueueItem) error {
	if asJSON {
		data, err := json.MarshalIndent(item, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "\nItem %s (project %s): %s in %s\n", item.ID, item.ProjectID, item.Status, item.Duration().Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tCLASS\tSTATUS\tATTEMPTS\tERROR")
	for _, s := range item.Steps {
		class := "non-critical"
		if s.Critical {
			class = "critical"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.Name, class, s.Status, s.Attempts, s.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if item.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", item.Error)
	}
	return nil
}
