package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

// drainTimeout bounds the wait for cancelled runs on interrupt.
const drainTimeout = 10 * time.Second

type analyzeOptions struct {
	mapping     map[string]string
	concurrency int
	top         int
	thresholds  []int
}

// fileResult is the outcome of one file, in argument order.
type fileResult struct {
	Path      string             `json:"path"`
	Run       *core.AnalysisRun  `json:"analysis,omitempty"`
	Conflicts *core.ConflictPage `json:"conflicts,omitempty"`
	Error     string             `json:"error,omitempty"`

	err error
}

func (r *fileResult) fail(err error) {
	r.err = err
	r.Error = err.Error()
}

func newAnalyzeCmd(g *globalOptions) *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Analyze inventory files for duplicate UPCs and multi-UPC products",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, g, opts, args)
		},
	}

	cmd.Flags().StringToStringVar(&opts.mapping, "mapping", nil, "column mapping, e.g. upc=Barcode,sku=Item (skips inference)")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "files analyzed at once (default PIPELINE_MAX_CONCURRENT)")
	cmd.Flags().IntVar(&opts.top, "top", 10, "conflicts listed per file")
	cmd.Flags().IntSliceVar(&opts.thresholds, "thresholds", nil, "severity thresholds low,medium,high,critical")
	return cmd
}

func runAnalyze(cmd *cobra.Command, g *globalOptions, opts analyzeOptions, paths []string) error {
	ctx := cmd.Context()

	var thresholds *core.Thresholds
	if len(opts.thresholds) > 0 {
		if len(opts.thresholds) != 4 {
			return fmt.Errorf("--thresholds needs four values, got %d", len(opts.thresholds))
		}
		t := core.Thresholds{Low: opts.thresholds[0], Medium: opts.thresholds[1], High: opts.thresholds[2], Critical: opts.thresholds[3]}
		if err := t.Validate(); err != nil {
			return err
		}
		thresholds = &t
	}
	mapping := mappingOf(opts.mapping)

	app, err := openApp(ctx, g, func(c *config.Config) {
		if opts.concurrency > 0 {
			c.Pipeline.MaxConcurrent = opts.concurrency
		}
	})
	if err != nil {
		return err
	}
	defer app.Close()
	svc := app.Service

	results := make([]fileResult, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(svc.RunLimiterStatus().MaxConcurrent, 1))

	for i, path := range paths {
		results[i].Path = path
		eg.Go(func() error {
			run, err := analyzeFile(egCtx, svc, path, mapping, thresholds)
			if err != nil {
				results[i].fail(err)
				// An interrupt stops the batch; a bad file does not.
				if ctx.Err() != nil {
					return err
				}
				return nil
			}
			results[i].Run = run
			if run.Status == core.StatusCompleted {
				page, err := svc.ListConflicts(egCtx, run.ID, core.ConflictFilter{Limit: opts.top})
				if err != nil {
					results[i].fail(err)
					return nil
				}
				results[i].Conflicts = page
			}
			return nil
		})
	}
	waitErr := eg.Wait()

	if ctx.Err() != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		svc.WaitForRuns(drainCtx)
	}

	out := cmd.OutOrStdout()
	if g.jsonOut {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printResult(out, r)
		}
	}

	if waitErr != nil {
		return waitErr
	}
	for _, r := range results {
		if r.err != nil || (r.Run != nil && r.Run.Status == core.StatusFailed) {
			return errRunsFailed
		}
	}
	return nil
}

// analyzeFile runs one analysis to its end. On interrupt the run is
// cancelled and recorded as failed.
func analyzeFile(ctx context.Context, svc *core.Service, path string, mapping schema.Mapping, thresholds *core.Thresholds) (*core.AnalysisRun, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	started, err := svc.StartAnalysis(ctx, core.AnalysisRequest{
		FileName:   filepath.Base(path),
		Path:       abs,
		Size:       info.Size(),
		Mapping:    mapping,
		Thresholds: thresholds,
	})
	if err != nil {
		return nil, err
	}

	run, err := svc.WaitForRun(ctx, started.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if cerr := svc.CancelRun(context.Background(), started.ID); cerr != nil && !errors.Is(cerr, core.ErrRunImmutable) {
				return nil, errors.Join(err, cerr)
			}
		}
		return nil, err
	}
	return run, nil
}

// mappingOf converts --mapping pairs, keeping field names case-insensitive.
func mappingOf(pairs map[string]string) schema.Mapping {
	if len(pairs) == 0 {
		return nil
	}
	m := make(schema.Mapping, len(pairs))
	for k, v := range pairs {
		m[schema.Field(strings.ToLower(strings.TrimSpace(k)))] = strings.TrimSpace(v)
	}
	return m
}
