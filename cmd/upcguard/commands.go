package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upcguard/internal/core"
)

func newResumeCmd(g *globalOptions) *cobra.Command {
	var mapping map[string]string
	var top int

	cmd := &cobra.Command{
		Use:   "resume ANALYSIS_ID",
		Short: "Resume an analysis waiting for a column mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, g, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			svc := app.Service

			if _, err := svc.ResumeWithMapping(ctx, args[0], mappingOf(mapping)); err != nil {
				return err
			}
			run, err := svc.WaitForRun(ctx, args[0])
			if err != nil {
				svc.CancelRun(context.Background(), args[0])
				return err
			}

			res := fileResult{Path: run.FileName, Run: run}
			if run.Status == core.StatusCompleted {
				if res.Conflicts, err = svc.ListConflicts(ctx, run.ID, core.ConflictFilter{Limit: top}); err != nil {
					return err
				}
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd.OutOrStdout(), res)
			if run.Status == core.StatusFailed {
				return errRunsFailed
			}
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&mapping, "mapping", nil, "column mapping, e.g. upc=Barcode,sku=Item")
	cmd.Flags().IntVar(&top, "top", 10, "conflicts listed")
	_ = cmd.MarkFlagRequired("mapping")
	return cmd
}

func newRunsCmd(g *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, g, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			runs, err := app.Service.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of analyses")
	return cmd
}

func newConflictsCmd(g *globalOptions) *cobra.Command {
	var kind, severity, status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "conflicts ANALYSIS_ID",
		Short: "List an analysis's conflicts with suggestions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := core.ConflictFilter{
				Kind:   core.ConflictKind(strings.ToUpper(kind)),
				Status: core.ConflictStatus(strings.ToUpper(status)),
				Limit:  limit,
				Offset: offset,
			}
			if f.Kind != "" && !f.Kind.Valid() {
				return fmt.Errorf("unknown kind %q", kind)
			}
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			if severity != "" {
				sev, err := core.ParseSeverity(severity)
				if err != nil {
					return err
				}
				f.Severity = sev
			}

			ctx := cmd.Context()
			app, err := openApp(ctx, g, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			page, err := app.Service.ListConflicts(ctx, args[0], f)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), page)
			}
			printConflicts(cmd.OutOrStdout(), page, true)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "DUPLICATE_UPC or MULTI_UPC_PRODUCT")
	cmd.Flags().StringVar(&severity, "severity", "", "LOW, MEDIUM, HIGH or CRITICAL")
	cmd.Flags().StringVar(&status, "status", "", "workflow status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newSetStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status CONFLICT_ID STATUS",
		Short: "Move a conflict along its workflow (NEW, ASSIGNED, IN_PROGRESS, RESOLVED, DISMISSED)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := openApp(ctx, g, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			v, err := app.Service.UpdateConflictStatus(ctx, args[0], core.ConflictStatus(strings.ToUpper(args[1])))
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", v.ID, v.Kind, v.Status)
			return nil
		},
	}
}
