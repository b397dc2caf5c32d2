package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo-go/internal/budget"
	"github.com/mnemo-ai/mnemo-go/internal/provider"
)

// NewChatCmd constructs the `mnemo chat` command. With an argument it sends
// a single message; without one it starts an interactive session. Notes
// passed via --note are given to the model as grounding context.
func NewChatCmd() *cobra.Command {
	var notes []string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the local model, optionally grounded in your notes",
		Long: `Send a message to the locally running chat model.

Notes supplied with --note are injected as context so answers can reference
them. Without a message argument an interactive session starts; prior
exchanges are carried as context, trimmed to the configured history limit.

Examples:
  mnemo chat "summarize my week"
  mnemo chat --note "fri: shipped v2" --note "mon: outage postmortem" "what happened?"
  mnemo chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()
			defer watchProgress(a.tracker)()

			ctx := cmd.Context()
			p, err := a.registry.Select(ctx, a.cfg.Provider.Preferred, provider.CapabilityChat)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				reply, err := p.Chat(ctx, args[0], notes)
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			}

			// Interactive session. Prior exchanges ride along as context,
			// trimmed oldest-first to the exchange limit and token budget.
			var history []string

			fmt.Fprintln(os.Stderr, "mnemo chat (ctrl-d to exit)")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				message := strings.TrimSpace(scanner.Text())
				if message == "" {
					continue
				}

				history = budget.TrimHistory(notes, history, message, budget.DefaultMaxContextTokens)
				reply, err := p.Chat(ctx, message, append(append([]string(nil), notes...), history...))
				if err != nil {
					return err
				}
				fmt.Println(reply)

				history = append(history, "user: "+message, "assistant: "+reply)
				if limit := 2 * a.cfg.Chat.MaxHistory; limit > 0 && len(history) > limit {
					history = history[len(history)-limit:]
				}
			}
		},
	}

	cmd.Flags().StringArrayVar(&notes, "note", nil, "Note to give the model as context (repeatable)")

	return cmd
}
