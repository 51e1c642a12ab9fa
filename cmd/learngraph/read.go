package main

import (
	"github.com/spf13/cobra"

	"github.com/dan-solli/learngraph/pkg/fingerprint"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the graph read model as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := openEngine(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := e.ReadGraph(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

var laggingCmd = &cobra.Command{
	Use:   "lagging <user>",
	Short: "List a learner's lagging concepts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := openEngine(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()

		course, _ := cmd.Flags().GetString("course")
		out, err := e.LaggingConcepts(cmd.Context(), args[0], course)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Inspect or manage a learner's cognitive fingerprint",
}

func fingerprintSub(use, short string, run func(cmd *cobra.Command, user string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}
}

func init() {
	laggingCmd.Flags().String("course", "", "Only concepts mapped to this course")

	planCmd := fingerprintSub("plan", "Print the personalization plan", func(cmd *cobra.Command, user string) error {
		e, _, err := openEngine(cmd.Context(), cmd, false)
		if err != nil {
			return err
		}
		defer e.Close()
		tags, _ := cmd.Flags().GetStringSlice("concept")
		plan, err := e.PersonalizationPlan(cmd.Context(), user, fingerprint.PlanContext{ConceptTags: tags})
		if err != nil {
			return err
		}
		return printJSON(cmd, plan)
	})
	planCmd.Flags().StringSlice("concept", nil, "Concept tags being taught, used when no weak concepts are known")

	fingerprintCmd.AddCommand(
		fingerprintSub("summary", "Print the fingerprint summary", func(cmd *cobra.Command, user string) error {
			e, _, err := openEngine(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()
			s, err := e.FingerprintSummary(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		}),
		fingerprintSub("breakdown", "Print per-concept fingerprint rows", func(cmd *cobra.Command, user string) error {
			e, _, err := openEngine(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()
			bd, err := e.ConceptBreakdown(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printJSON(cmd, bd)
		}),
		planCmd,
		fingerprintSub("delete", "Delete the fingerprint and stop recording", func(cmd *cobra.Command, user string) error {
			e, _, err := openEngine(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.DeleteFingerprint(cmd.Context(), user)
		}),
		fingerprintSub("enable", "Resume recording after a delete", func(cmd *cobra.Command, user string) error {
			e, _, err := openEngine(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.EnableFingerprint(cmd.Context(), user)
		}),
	)
}
