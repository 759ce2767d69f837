package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rgoodman/agentcal/internal/criteria"
	"github.com/rgoodman/agentcal/internal/models"
)

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Show or edit an agent's description and scoring criteria",
	Long: `Show or edit the description and per-metric scoring rules that drive
an agent's automated span scoring.

Prose-only description edits save cheaply. Changing the rule set for
any metric additionally triggers a backend re-evaluation over a recent
window of spans.`,
}

var criteriaShowCmd = &cobra.Command{
	Use:   "show <agent-ref>",
	Short: "Show current description and rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return criteriaShowRun(cmd.Context(), args[0])
	},
}

var criteriaDescribeCmd = &cobra.Command{
	Use:   "describe <agent-ref> <text>",
	Short: "Replace the agent description",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return criteriaEditRun(cmd.Context(), args[0], func(in *criteria.Intake) error {
			return in.SetDescription(args[1])
		})
	},
}

var criteriaAddCmd = &cobra.Command{
	Use:   "add <agent-ref> <metric> <rule>",
	Short: "Add a scoring rule to a metric",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return criteriaEditRun(cmd.Context(), args[0], func(in *criteria.Intake) error {
			return in.AddRule(args[1], args[2])
		})
	},
}

var criteriaRemoveCmd = &cobra.Command{
	Use:   "remove <agent-ref> <metric> <position>",
	Short: "Remove the rule at a 1-based position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parseRulePos(args[2])
		if err != nil {
			return err
		}
		return criteriaEditRun(cmd.Context(), args[0], func(in *criteria.Intake) error {
			return in.RemoveRule(args[1], pos)
		})
	},
}

var criteriaReplaceCmd = &cobra.Command{
	Use:   "replace <agent-ref> <metric> <position> <rule>",
	Short: "Replace the rule at a 1-based position",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parseRulePos(args[2])
		if err != nil {
			return err
		}
		return criteriaEditRun(cmd.Context(), args[0], func(in *criteria.Intake) error {
			return in.ReplaceRule(args[1], pos, args[3])
		})
	},
}

var criteriaExportCmd = &cobra.Command{
	Use:   "export <agent-ref> <file.yaml>",
	Short: "Write description and rules to a YAML file ('-' for stdout)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return criteriaExportRun(cmd.Context(), args[0], args[1])
	},
}

var criteriaImportCmd = &cobra.Command{
	Use:   "import <agent-ref> <file.yaml>",
	Short: "Replace description and rules from a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return criteriaImportRun(cmd.Context(), args[0], args[1])
	},
}

func init() {
	criteriaCmd.AddCommand(criteriaShowCmd)
	criteriaCmd.AddCommand(criteriaDescribeCmd)
	criteriaCmd.AddCommand(criteriaAddCmd)
	criteriaCmd.AddCommand(criteriaRemoveCmd)
	criteriaCmd.AddCommand(criteriaReplaceCmd)
	criteriaCmd.AddCommand(criteriaExportCmd)
	criteriaCmd.AddCommand(criteriaImportCmd)
	rootCmd.AddCommand(criteriaCmd)
}

// criteriaFile is the YAML shape used by export/import.
type criteriaFile struct {
	Description      string              `yaml:"description"`
	CriteriaByMetric map[string][]string `yaml:"criteria_by_metric"`
}

func criteriaExportRun(ctx context.Context, agentRef, file string) error {
	in, err := loadIntake(ctx, agentRef)
	if err != nil {
		return err
	}
	doc := in.Document()

	data, err := yaml.Marshal(criteriaFile{
		Description:      doc.Description,
		CriteriaByMetric: doc.CriteriaByMetric,
	})
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}

	if file == "-" {
		fmt.Fprint(ui.Out, string(data))
		return nil
	}
	if err := os.WriteFile(file, data, 0644); err != nil {
		return fmt.Errorf("write criteria file: %w", err)
	}
	ui.Success("Criteria for %s written to %s", agentRef, file)
	return nil
}

func criteriaImportRun(ctx context.Context, agentRef, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read criteria file: %w", err)
	}

	var cf criteriaFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("parse criteria file: %w", err)
	}

	return criteriaEditRun(ctx, agentRef, func(in *criteria.Intake) error {
		if err := in.SetDescription(cf.Description); err != nil {
			return err
		}
		return in.SetRules(cf.CriteriaByMetric)
	})
}

func parseRulePos(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("position must be a positive number, got %q", arg)
	}
	return n - 1, nil
}

func loadIntake(ctx context.Context, agentRef string) (*criteria.Intake, error) {
	be, err := getBackend()
	if err != nil {
		return nil, err
	}

	in := criteria.NewIntake(be, agentRef, criteria.DefaultConfig())
	if err := in.Load(ctx); err != nil {
		return nil, err
	}
	return in, nil
}

func criteriaShowRun(ctx context.Context, agentRef string) error {
	in, err := loadIntake(ctx, agentRef)
	if err != nil {
		return err
	}
	printCriteria(in.Document())
	return nil
}

// criteriaEditRun loads the live document, applies one edit, and saves.
func criteriaEditRun(ctx context.Context, agentRef string, edit func(*criteria.Intake) error) error {
	in, err := loadIntake(ctx, agentRef)
	if err != nil {
		return err
	}

	if err := edit(in); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would save criteria for %s", agentRef)
		printCriteria(in.Document())
		return nil
	}

	reEvaluated, err := in.Save(ctx)
	if err != nil {
		return err
	}

	ui.Success("Criteria saved for %s", agentRef)
	if reEvaluated {
		ui.Info("Rule set changed; backend re-evaluation requested")
	}
	printCriteria(in.Document())
	return nil
}

func printCriteria(doc *models.CriteriaDocument) {
	fmt.Fprintf(ui.Out, "\nDescription:\n  %s\n\n", doc.Description)

	metrics := make([]string, 0, len(doc.CriteriaByMetric))
	for m := range doc.CriteriaByMetric {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	if len(metrics) == 0 {
		ui.Info("No scoring rules defined")
		return
	}

	table := ui.Table([]string{"Metric", "#", "Rule"})
	for _, m := range metrics {
		for i, rule := range doc.CriteriaByMetric[m] {
			table.Append([]string{m, strconv.Itoa(i + 1), rule})
		}
	}
	_ = table.Render()
}
