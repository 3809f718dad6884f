package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/inference-sim/sim-replay/sim/cache"
)

// inspectCache prints the status of the cache file at path: whether it
// exists, what it holds and what a run against it would do.
func inspectCache(path string, w io.Writer) error {
	fmt.Fprintf(w, "Cache file    : %s\n", path)
	if !cache.Exists(path) {
		fmt.Fprintln(w, "Exists        : false")
		fmt.Fprintln(w, "A run records a new cache at this path; --replay falls back to recording.")
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Exists        : true")
	fmt.Fprintf(w, "Size          : %s\n", humanize.Bytes(uint64(info.Size())))
	if info.Size() == 0 {
		fmt.Fprintln(w, "The file is empty; --replay falls back to recording.")
		return nil
	}

	rec, err := cache.Open(path)
	if errors.Is(err, cache.ErrNoSteps) {
		fmt.Fprintln(w, "The file ends before its header is complete; --replay falls back to recording.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	fmt.Fprintf(w, "Backend       : %s\n", rec.Backend)
	fmt.Fprintf(w, "Format        : v%d\n", rec.Header.FormatVersion)
	fmt.Fprintf(w, "Run ID        : %s\n", rec.Header.RunID)
	if rec.Header.Model != "" {
		fmt.Fprintf(w, "Model         : %s\n", rec.Header.Model)
	}
	fmt.Fprintf(w, "Created       : %s (%s)\n", rec.Header.CreatedAt.Format(time.RFC3339), humanize.Time(rec.Header.CreatedAt))
	fmt.Fprintf(w, "Entries       : %d\n", rec.Len())
	fmt.Fprintf(w, "Finished      : %t\n", rec.Finished)
	if rec.Torn {
		fmt.Fprintln(w, "Torn          : true (last entry incomplete, ignored)")
	}
	if rec.Len() == 0 {
		fmt.Fprintln(w, "No recorded steps; --replay falls back to recording.")
		return nil
	}
	fmt.Fprintf(w, "Replay range  : steps 0 to %d\n", rec.Len()-1)
	fmt.Fprintln(w, "Run with --replay to replay these steps, or without it to record over them.")
	return nil
}
