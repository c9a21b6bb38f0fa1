package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/consortium/internal/evaluation"
	"github.com/zulandar/consortium/internal/session"
)

func newLeaderboardCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		since      string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank models by average arbiter confidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceT, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.evals.GetLeaderboard(cmd.Context(), evaluation.LeaderboardQuery{
				Limit:       limit,
				Since:       sinceT,
				ModelFilter: model,
			})
			if err != nil {
				return err
			}
			printLeaderboard(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", evaluation.DefaultLeaderboardLimit, "maximum models to show")
	cmd.Flags().StringVar(&since, "since", "", "only evaluations at or after this time (RFC 3339, date, or duration)")
	cmd.Flags().StringVar(&model, "model", "", "only models whose id contains this text")
	return cmd
}

func printLeaderboard(out io.Writer, entries []evaluation.LeaderboardEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No evaluations found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tMODEL\tEVALS\tAVG CONF\tWIN RATE\tAVG TOKENS\tTOTAL TOKENS\tAVG MS")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.3f\t%.1f%%\t%.0f\t%s\t%.0f\n",
			i+1, e.Model, e.EvaluationCount, e.AvgConfidence, e.WinRate,
			e.AvgTokens, formatTokenCount(e.TotalTokens), e.AvgDurationMs)
	}
	w.Flush()
}

func newRunsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		since      string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent consortium runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceT, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.evals.GetRecentRuns(cmd.Context(), limit, sinceT)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", evaluation.DefaultRecentRunsLimit, "maximum runs to show")
	cmd.Flags().StringVar(&since, "since", "", "only runs evaluated at or after this time")
	return cmd
}

func printRuns(out io.Writer, runs []evaluation.RecentRun) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tLAST EVALUATED\tARBITER\tMODELS\tITERS\tCONF\tCHOSEN\tTOKENS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.3f\t%s\t%s\n",
			r.ConsortiumID, r.Timestamp.Local().Format(time.DateTime), r.ArbiterModel,
			strings.Join(r.Models, ","), r.IterationCount, r.FinalConfidence,
			dash(r.ChosenModel), formatTokenCount(r.TotalTokens))
	}
	w.Flush()
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "run <consortium-id>",
		Short: "Show one run, iteration by iteration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.evals.GetRunDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			printRunDetail(cmd.OutOrStdout(), d)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full record as JSON")
	return cmd
}

func printRunDetail(out io.Writer, d *evaluation.RunDetail) {
	fmt.Fprintf(out, "Run:        %s\n", d.ConsortiumID)
	fmt.Fprintf(out, "Arbiter:    %s\n", d.ArbiterModel)
	fmt.Fprintf(out, "Models:     %s\n", strings.Join(d.Models, ", "))
	fmt.Fprintf(out, "Started:    %s\n", d.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Updated:    %s\n", d.LastUpdated.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Final:      iteration %d, confidence %.3f\n", d.FinalIteration, d.FinalConfidence)
	fmt.Fprintf(out, "Tokens:     %s\n", formatTokenCount(d.TotalTokens))
	fmt.Fprintf(out, "Duration:   %dms\n", d.TotalDurationMs)

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tCONF\tCHOSEN\tEVALS\tTOKENS\tREFINE")
	for _, it := range d.Iterations {
		fmt.Fprintf(w, "%d\t%.3f\t%s\t%d\t%s\t%s\n",
			it.Iteration, it.Confidence, dash(it.ChosenModel), it.Evaluations,
			formatTokenCount(it.Tokens), dash(strings.Join(it.RefinementAreas, "; ")))
	}
	w.Flush()

	if d.FinalSynthesis != "" {
		fmt.Fprintf(out, "\nSynthesis:\n%s\n", d.FinalSynthesis)
	}
}

func newSessionsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.sessions.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tCREATED\tSTRATEGY\tMODELS\tSTATUS\tPROMPT")
			for i := range list {
				s := &list[i]
				ids, _ := session.ModelIDs(s)
				status := "open"
				if s.CompletedAt != nil {
					status = "completed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.SessionID, s.CreatedAt.Local().Format(time.DateTime), dash(s.Strategy),
					strings.Join(ids, ","), status, oneLine(s.Prompt, 50))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", session.DefaultListLimit, "maximum sessions to show")
	return cmd
}

func newSessionCmd() *cobra.Command {
	var (
		configPath string
		iteration  int
	)

	cmd := &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show a session and its logged responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			s, err := a.sessions.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("session %s not found", args[0])
			}
			var filter *int
			if cmd.Flags().Changed("iteration") {
				filter = &iteration
			}
			responses, err := a.sessions.GetResponses(ctx, s.SessionID, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ids, _ := session.ModelIDs(s)
			fmt.Fprintf(out, "Session:    %s\n", s.SessionID)
			fmt.Fprintf(out, "Strategy:   %s\n", dash(s.Strategy))
			fmt.Fprintf(out, "Models:     %s\n", strings.Join(ids, ", "))
			fmt.Fprintf(out, "Created:    %s\n", s.CreatedAt.Local().Format(time.DateTime))
			if s.CompletedAt != nil {
				fmt.Fprintf(out, "Completed:  %s\n", s.CompletedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintf(out, "Prompt:     %s\n", oneLine(s.Prompt, 200))

			fmt.Fprintf(out, "\nResponses (%d):\n", len(responses))
			for _, r := range responses {
				conf := "-"
				if r.Confidence != nil {
					conf = fmt.Sprintf("%.3f", *r.Confidence)
				}
				fmt.Fprintf(out, "  [iter %d] %s (confidence %s): %s\n",
					r.Iteration, r.ModelID, conf, oneLine(r.ResponseContent, 120))
			}
			if s.FinalResult != nil {
				fmt.Fprintf(out, "\nFinal result:\n%s\n", *s.FinalResult)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&iteration, "iteration", 0, "only responses from this iteration")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
