package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/schoolinfo/internal/backend"
	"github.com/ashureev/schoolinfo/internal/query"
	"github.com/spf13/cobra"
)

// errNoAnswer marks a non-success reply so the process exits non-zero.
var errNoAnswer = errors.New("no answer from backend")

func newAskCmd(a *app) *cobra.Command {
	var intentFlag string

	cmd := &cobra.Command{
		Use:   "ask <question...> [-- process-args...]",
		Short: "Ask one question and print the answer",
		Long: `Ask one question and print the normalized answer.

The question is classified as grades, pastEvents or upcomingEvents unless
--type is given.

Examples:
  schoolchat ask "What are my grades?"
  schoolchat ask --type pastEvents "What happened at the assembly?"
  schoolchat ask --transport process --command python3 "When is dismissal?" -- backend.py`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			words, extra := splitDash(cmd, args)
			text := strings.Join(words, " ")
			if strings.TrimSpace(text) == "" {
				return errors.New("question is empty")
			}

			intent := query.Classify(text)
			if intentFlag != "" {
				parsed, err := query.ParseIntent(intentFlag)
				if err != nil {
					return err
				}
				intent = parsed
			}

			d, closeFn, err := a.dispatcher(extra)
			if err != nil {
				return err
			}
			defer closeFn()

			out := d.Dispatch(cmd.Context(), query.Build(text, intent))
			fmt.Fprintln(cmd.OutOrStdout(), backend.Normalize(out))
			if !backend.Succeeded(out) {
				return fmt.Errorf("%w (%s)", errNoAnswer, out.Kind)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&intentFlag, "type", "t", "", "skip classification: grades, pastEvents or upcomingEvents")
	return cmd
}
