package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"civicbot/internal/session"
)

var (
	askConversation string
	askMore         bool
	askJSON         bool
	askPlain        bool
)

// askCmd runs one conversation turn against the model.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the assistant a question",
	Long: `Sends one question to Gemini and renders the sanitized answer.
Pass --conversation to continue a conversation: events already shown in it are
not repeated. Use --more to ask for further events.`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "Conversation id (default: a new one)")
	askCmd.Flags().BoolVar(&askMore, "more", false, "Ask for more events in the conversation")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the DisplayMessage as JSON")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Do not render markdown")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	if !askMore && strings.TrimSpace(question) == "" {
		return fmt.Errorf("a question is required (or pass --more)")
	}
	if askMore && askConversation == "" {
		return fmt.Errorf("--more needs --conversation")
	}

	st, err := buildStack(cmd.Context(), cfg, stackOptions{llm: true, store: true})
	if err != nil {
		return err
	}
	defer st.Close()

	convID := askConversation
	if convID == "" {
		convID = session.NewConversationID()
	}

	var turn *session.Turn
	if askMore {
		turn, err = st.controller.MoreEvents(cmd.Context(), convID)
	} else {
		turn, err = st.controller.Ask(cmd.Context(), convID, question)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		return writeMessageJSON(out, turn.Message)
	}
	fmt.Fprint(out, renderMessage(turn.Message, renderOptions{markdown: !askPlain}))
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("conversation %s · %v", convID, turn.Duration.Round(time.Millisecond))))
	return nil
}
