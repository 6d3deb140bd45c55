package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/schoolinfo/internal/query"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text...>",
		Short: "Show the intent and request body for a question without sending it",
		Args:  cobra.MinimumNArgs(1),
		Annotations: map[string]string{
			offlineAnnotation: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := query.FromText(strings.Join(args, " "))
			body, err := json.Marshal(req)
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "intent: %s\n", req.Type)
			fmt.Fprintf(out, "%s\n", body)
			return nil
		},
	}
}
