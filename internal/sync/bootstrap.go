package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Bootstrap performs the first-run hydration of an empty local store: it pulls
// every report kind from the remote stores and prints a summary.
type Bootstrap struct {
	repos  []*Repository
	store  LocalStore
	log    *slog.Logger
	writer io.Writer // summary output (os.Stdout in production)
}

// NewBootstrap creates a Bootstrap over the given repositories and store.
func NewBootstrap(repos []*Repository, store LocalStore, logger *slog.Logger, writer io.Writer) *Bootstrap {
	return &Bootstrap{
		repos:  repos,
		store:  store,
		log:    logger,
		writer: writer,
	}
}

type bootstrapResult struct {
	repo  *Repository
	stats PullStats
	err   error
}

// Run checks whether the local store is empty and, if so, pulls every kind.
// Returns true if the hydration ran, false if skipped. A kind whose pull fails
// is reported in the summary; the error is returned only when every kind
// failed.
func (b *Bootstrap) Run(ctx context.Context) (bool, error) {
	empty, err := b.store.IsEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("checking local store: %w", err)
	}
	if !empty {
		b.log.Debug("local store is not empty, skipping bootstrap")
		return false, nil
	}

	b.log.Info("empty local store detected, starting first-run pull")

	results := make([]bootstrapResult, 0, len(b.repos))
	failed := 0
	for _, repo := range b.repos {
		stats, err := repo.Pull(ctx)
		if err != nil {
			failed++
			b.log.Error("first-run pull failed", "kind", repo.Kind().String(), "error", err)
		}
		results = append(results, bootstrapResult{repo: repo, stats: stats, err: err})
	}

	b.printSummary(results)

	if len(b.repos) > 0 && failed == len(b.repos) {
		return true, fmt.Errorf("first-run pull failed for every report kind: %w", results[0].err)
	}
	b.log.Info("bootstrap complete")
	return true, nil
}

// printSummary writes a human-readable summary of the pull results.
func (b *Bootstrap) printSummary(results []bootstrapResult) {
	totalPulled := 0
	totalErrors := 0

	_, _ = fmt.Fprintf(b.writer, "\n--- First-Run Pull Summary ---\n\n")

	for _, r := range results {
		_, _ = fmt.Fprintf(b.writer, "%s (%s):\n", r.repo.Kind(), r.repo.Kind().Collection())
		if r.err != nil {
			_, _ = fmt.Fprintf(b.writer, "  ✗ pull failed: %v\n\n", r.err)
			continue
		}
		_, _ = fmt.Fprintf(b.writer, "  Remote documents: %d\n", r.stats.Fetched)
		_, _ = fmt.Fprintf(b.writer, "  Stored locally:   %d\n", r.stats.Pulled)
		if r.stats.Errors > 0 {
			_, _ = fmt.Fprintf(b.writer, "  Unreadable:       %d\n", r.stats.Errors)
		}
		_, _ = fmt.Fprintln(b.writer)

		totalPulled += r.stats.Pulled
		totalErrors += r.stats.Errors
	}

	_, _ = fmt.Fprintf(b.writer, "Total: %d reports stored, %d skipped with errors\n", totalPulled, totalErrors)
}
