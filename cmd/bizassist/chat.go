package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/run-bigpig/bizassist/internal/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long:  `Start an interactive conversation. Type "exit" or press Ctrl-D to quit.`,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	greeting, st, err := a.Sessions.Start(ctx, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n\n> ", greeting.Content)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		switch {
		case text == "":
			fmt.Fprint(out, "> ")
			continue
		case text == "exit" || text == "quit":
			return nil
		}

		reply, next, err := a.Sessions.Send(ctx, st.ID, text)
		if reply.Content == "" && err != nil {
			return err
		}
		if err != nil {
			log.Warn("conversation %s not saved: %v", st.ID, err)
		}
		fmt.Fprintf(out, "\n%s\n", reply.Content)
		if next.Phase == models.PhaseScheduled && next.Meeting.CaptureStatus == models.CaptureDegraded {
			fmt.Fprintln(out, "(lead could not be stored)")
		}
		fmt.Fprint(out, "\n> ")
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}
