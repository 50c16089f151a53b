package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ledgerCmd inspects the per-conversation record of shown events.
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or reset a conversation's shown-events ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <conversation>",
	Short: "List the event keys already shown in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerResetCmd = &cobra.Command{
	Use:   "reset <conversation>",
	Short: "Forget the events shown in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerReset,
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerResetCmd)
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	st, err := buildStack(cmd.Context(), cfg, stackOptions{store: true})
	if err != nil {
		return err
	}
	defer st.Close()

	keys, err := st.store.LoadSeenKeys(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintf(out, "No events shown in conversation %s\n", args[0])
		return nil
	}
	fmt.Fprintln(out, headingStyle.Render(fmt.Sprintf("%d keys in %s", len(keys), args[0])))
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
	return nil
}

func runLedgerReset(cmd *cobra.Command, args []string) error {
	st, err := buildStack(cmd.Context(), cfg, stackOptions{store: true})
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.store.ClearSeenKeys(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ledger of conversation %s cleared\n", args[0])
	return nil
}
