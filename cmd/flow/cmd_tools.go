package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"challengeflow/internal/challenge"
	"challengeflow/internal/config"
	"challengeflow/internal/journal"

	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Classify instruction text offline",
	Long: `Runs the keyword classifier on the given text, as if it had been read from
the challenge region, and prints the classification and grid type.

Example:
  flow classify "Pick the images that match the left one"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		printClassification(cmd.OutOrStdout(), strings.Join(args, " "))
		return nil
	},
}

func printClassification(w io.Writer, text string) {
	tag := challenge.Classify(text)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("classification:"), valueStyle.Render(tag.String()))
	if tag == challenge.AwaitingSelection || tag == challenge.Ambiguous {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("grid type:"), valueStyle.Render(challenge.GridTypeFor(text).WireName()))
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeDefaultConfig(cmd.OutOrStdout(), configPath, configInitForce)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	journalListCmd.Flags().IntVar(&journalListLimit, "limit", 20, "Number of sessions to show")
}

func writeDefaultConfig(w io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", successStyle.Render("wrote"), path)
	return nil
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect recorded Sessions",
}

var journalListLimit int

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent Sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSessions(cmd.Context(), cmd.OutOrStdout(), cfg.Journal, journalListLimit)
	},
}

func listSessions(ctx context.Context, w io.Writer, jc config.JournalConfig, limit int) error {
	if _, err := os.Stat(jc.DatabasePath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, dimStyle.Render("no journal at "+jc.DatabasePath))
		return nil
	}
	j, err := journal.Open(jc, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	sessions, err := j.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no sessions recorded"))
		return nil
	}
	for _, s := range sessions {
		outcome := s.Outcome
		if outcome == "" {
			outcome = "unfinished"
		}
		fmt.Fprintf(w, "%s  %s  %s  events=%d tasks=%d\n",
			dimStyle.Render(s.StartedAt.Local().Format("2006-01-02 15:04:05")),
			s.ID, statusStyleFor(outcome).Render(outcome), s.Events, s.Tasks)
	}
	return nil
}
