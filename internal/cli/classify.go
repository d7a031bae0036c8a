package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehsaniara/flowq/internal/flowq/classifier"
	"github.com/ehsaniara/flowq/internal/flowq/domain"
)

type classifyOptions struct {
	context []string
}

type stepDecision struct {
	Step   string `json:"step"`
	Class  string `json:"class"`
	Source string `json:"source"`
	Rule   string `json:"rule"`
}

type classifyOutput struct {
	domain.ClassificationResult
	Decisions []stepDecision `json:"decisions"`
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	co := &classifyOptions{}

	cmd := &cobra.Command{
		Use:   "classify [flags] STEP...",
		Short: "Show how steps would be partitioned into critical and non-critical",
		Example: `  flowq classify SaveFile RenderChart GenerateSummary
  flowq classify --context workflowId=wf-1 RenderChart`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx, err := parseContext(co.context)
			if err != nil {
				return err
			}
			return runClassify(cmd, opts, classifier.New(), args, execCtx)
		},
	}

	cmd.Flags().StringArrayVar(&co.context, "context", nil,
		"Execution context entry as key=value (repeatable), e.g. workflowId=wf-1")
	return cmd
}

func runClassify(cmd *cobra.Command, opts *rootOptions, c *classifier.Classifier, steps []string, execCtx domain.ExecutionContext) error {
	out := classifyOutput{ClassificationResult: c.Classify(steps, execCtx)}
	for _, step := range steps {
		d, err := c.ClassifyStep(step, execCtx)
		sd := stepDecision{Step: step, Class: string(d.Class), Source: string(d.Source), Rule: d.Rule}
		if err != nil {
			sd.Rule = err.Error()
		}
		out.Decisions = append(out.Decisions, sd)
	}

	w := cmd.OutOrStdout()
	if opts.jsonOutput {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tCLASS\tSOURCE\tRULE")
	for _, d := range out.Decisions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Step, d.Class, d.Source, d.Rule)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nCritical (in order): %s\n", joinOrDash(out.Critical))
	fmt.Fprintf(w, "Non-critical:        %s\n", joinOrDash(out.NonCritical))
	fmt.Fprintf(w, "Parallelization:     %.0f%% of %d steps\n", out.ParallelizationRatio*100, out.Total)
	if out.FailSafe {
		fmt.Fprintln(w, "Classification fault: every step forced critical")
	}
	return nil
}

// parseContext turns key=value pairs into an ExecutionContext. "true" and
// "false" become booleans; anything else stays a string.
func parseContext(pairs []string) (domain.ExecutionContext, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	ctx := make(domain.ExecutionContext, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context entry %q: expected key=value", pair)
		}
		switch strings.ToLower(value) {
		case "true":
			ctx[key] = true
		case "false":
			ctx[key] = false
		default:
			ctx[key] = value
		}
	}
	return ctx, nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
