package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/prosecheck/internal/feedback"
)

type submitFlags struct {
	text        string
	issue       int
	action      string
	replacement string
	user        string
	session     string
}

var submitOpts submitFlags

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Teach prosecheck from your reactions to issues",
}

var feedbackSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record how you reacted to one issue",
	Long: `Check --text, pick the issue numbered --issue (as printed by check) and
record the action taken on it.

Examples:
  prosecheck feedback submit --text "I recieve mail." --issue 1 --action accepted
  prosecheck feedback submit --text "Utilize it." --issue 1 --action modified --replacement "Use it."`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Feedback == nil {
			return errors.New("feedback is not available")
		}
		action, err := feedback.ParseAction(submitOpts.action)
		if err != nil {
			return err
		}

		result, err := app.Checker.Check(cmd.Context(), submitOpts.text, nil)
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		if submitOpts.issue < 1 || submitOpts.issue > len(result.Issues) {
			return fmt.Errorf("issue %d out of range: the text has %d issues", submitOpts.issue, len(result.Issues))
		}

		rec, err := app.Feedback.ProcessFeedback(cmd.Context(), feedback.Submission{
			Issue:  result.Issues[submitOpts.issue-1],
			Action: action,
			Context: feedback.SubmissionContext{
				Text:        submitOpts.text,
				Replacement: submitOpts.replacement,
				UserID:      submitOpts.user,
				SessionID:   submitOpts.session,
				Timestamp:   time.Now(),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to record feedback: %w", err)
		}
		app.Feedback.Wait()

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rec)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s on %q (%s, seq %d).\n", rec.Action, rec.Fragment, rec.PatternKey, rec.Seq)
		return nil
	},
}

var feedbackLearnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run a learning cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Feedback == nil {
			return errors.New("feedback is not available")
		}
		report, err := app.Feedback.RunLearningCycle(cmd.Context())
		if err != nil {
			return fmt.Errorf("learning cycle failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), report)
		}
		newRenderer(cmd.OutOrStdout()).Cycle(report)
		return nil
	},
}

var feedbackRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List learned rules and their rollout",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Learner == nil {
			return errors.New("feedback is not available")
		}
		status := app.Learner.Status()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), status)
		}
		newRenderer(cmd.OutOrStdout()).Rules(status)
		return nil
	},
}

func init() {
	f := feedbackSubmitCmd.Flags()
	f.StringVar(&submitOpts.text, "text", "", "text the issue was found in")
	f.IntVar(&submitOpts.issue, "issue", 1, "issue number as printed by check")
	f.StringVar(&submitOpts.action, "action", "", "accepted, rejected, modified or ignored")
	f.StringVar(&submitOpts.replacement, "replacement", "", "what you wrote instead (modified only)")
	f.StringVar(&submitOpts.user, "user", "", "user ID; never stored")
	f.StringVar(&submitOpts.session, "session", "", "session ID; never stored")
	_ = feedbackSubmitCmd.MarkFlagRequired("text")
	_ = feedbackSubmitCmd.MarkFlagRequired("action")

	feedbackCmd.AddCommand(feedbackSubmitCmd)
	feedbackCmd.AddCommand(feedbackLearnCmd)
	feedbackCmd.AddCommand(feedbackRulesCmd)
	rootCmd.AddCommand(feedbackCmd)
}
