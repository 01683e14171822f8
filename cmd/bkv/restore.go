package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mmp/bkv/bkerrors"
	"github.com/mmp/bkv/manifest"
	"github.com/mmp/bkv/metrics"
	"github.com/mmp/bkv/restore"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <pattern>",
	Short: "Restore files matching a path pattern as of a point in time",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var (
	restoreSetName string
	restoreDest    string
	restoreBefore  string
	restoreYes     bool
)

func init() {
	restoreCmd.Flags().StringVar(&restoreSetName, "name", "", "backup set name (required)")
	restoreCmd.Flags().StringVar(&restoreDest, "dest", "", "destination directory (required)")
	restoreCmd.Flags().StringVar(&restoreBefore, "before", "", "RFC3339 timestamp; restore state as of this instant (default: now)")
	restoreCmd.Flags().BoolVar(&restoreYes, "yes", false, "don't prompt for confirmation before restoring multiple files")
	restoreCmd.MarkFlagRequired("name")
	restoreCmd.MarkFlagRequired("dest")
}

func runRestore(cmd *cobra.Command, args []string) error {
	timer := prometheus.NewTimer(metrics.RunDuration.WithLabelValues("restore"))
	defer timer.ObserveDuration()

	pattern, err := regexp.Compile(args[0])
	if err != nil {
		return fmt.Errorf("%w: invalid pattern %q: %v", bkerrors.ErrConfig, args[0], err)
	}

	rc, err := openSet(restoreSetName)
	if err != nil {
		return err
	}
	defer rc.release()

	m, err := rc.openManifest(restoreSetName)
	if err != nil {
		return err
	}
	defer m.Close()

	at, err := parseTimeFlag(restoreBefore, time.Now().UnixNano())
	if err != nil {
		return err
	}

	paths, err := m.Search(at, pattern.MatchString)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		if log != nil {
			log.Warning("no paths in %s matched %q as of %s", restoreSetName, args[0], restoreBefore)
		}
		return nil
	}

	if !restoreYes && len(paths) > 1 && !confirm(len(paths)) {
		return fmt.Errorf("restore of %d files cancelled", len(paths))
	}

	var failed int
	for _, path := range paths {
		entry, err := m.GetEntryAtOrBefore(path, at)
		if err != nil {
			logRestoreFailure(path, err)
			failed++
			continue
		}
		if err := restoreOne(rc, m, entry); err != nil {
			logRestoreFailure(path, err)
			failed++
		}
	}

	if failed > 0 && log != nil {
		log.Info("restore finished with %d of %d path(s) failed", failed, len(paths))
	}
	return nil
}

func restoreOne(rc *runContext, m *manifest.Manifest, entry manifest.Entry) error {
	plaintext, err := restore.Resolve(rc.store, m, entry)
	if err != nil {
		return err
	}
	return restore.WriteToDisk(entry, plaintext, filepath.Join(restoreDest, entry.Path))
}

// logRestoreFailure surfaces a per-path restore error without aborting
// the remaining paths (spec.md §7: NotFound/Corrupt are reported per
// path and restore continues).
func logRestoreFailure(path string, err error) {
	if log != nil {
		log.Error("%s: %v", path, err)
	}
}

func confirm(n int) bool {
	fmt.Printf("restore %d file(s)? [y/N] ", n)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return line == "y\n" || line == "Y\n" || line == "yes\n"
}
