package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/schoolinfo/internal/conversation"
	"github.com/ashureev/schoolinfo/internal/domain"
	"github.com/spf13/cobra"
)

const chatHelp = `Type a question and press Enter.
  /reset  start a new conversation
  /help   show this help
  /quit   exit`

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [-- process-args...]",
		Short: "Start an interactive conversation",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, extra := splitDash(cmd, args)
			d, closeFn, err := a.dispatcher(extra)
			if err != nil {
				return err
			}
			defer closeFn()

			conv := conversation.New(d, conversation.WithKey("terminal"), conversation.WithLogger(a.logger))
			return runChat(cmd, conv, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runChat reads one question per line until EOF or /quit.
func runChat(cmd *cobra.Command, conv *conversation.Conversation, in io.Reader, out io.Writer) error {
	printAssistant(out, conv.Snapshot().Messages[0])
	fmt.Fprintln(out, "(type /help for commands)")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/reset":
			snap := conv.Reset()
			printAssistant(out, snap.Messages[0])
			continue
		}

		reply, err := conv.Submit(cmd.Context(), line)
		switch {
		case errors.Is(err, conversation.ErrEmptyInput):
			continue
		case err != nil:
			return err
		}
		printAssistant(out, *reply)
	}
}

func printAssistant(out io.Writer, m domain.Message) {
	fmt.Fprintf(out, "Assistant: %s\n", m.Content)
}
