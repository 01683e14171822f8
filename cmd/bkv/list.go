package main

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmp/bkv/bkerrors"
	"github.com/mmp/bkv/manifest"
)

var listCmd = &cobra.Command{
	Use:   "list <pattern>",
	Short: "List manifest entries matching a path pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

var (
	listSetName string
	listSHA     string
	listBefore  string
	listAfter   string
)

func init() {
	listCmd.Flags().StringVar(&listSetName, "name", "", "backup set name (required)")
	listCmd.Flags().StringVar(&listSHA, "sha", "", "only show entries whose blob SHA has this hex prefix")
	listCmd.Flags().StringVar(&listBefore, "before", "", "RFC3339 timestamp; state as of this instant (default: now)")
	listCmd.Flags().StringVar(&listAfter, "after", "", "RFC3339 timestamp; only show history entries after this instant")
	listCmd.MarkFlagRequired("name")
}

func runList(cmd *cobra.Command, args []string) error {
	pattern, err := regexp.Compile(args[0])
	if err != nil {
		return fmt.Errorf("%w: invalid pattern %q: %v", bkerrors.ErrConfig, args[0], err)
	}

	rc, err := openSet(listSetName)
	if err != nil {
		return err
	}
	defer rc.release()

	m, err := rc.openManifest(listSetName)
	if err != nil {
		return err
	}
	defer m.Close()

	before, err := parseTimeFlag(listBefore, time.Now().UnixNano())
	if err != nil {
		return err
	}
	after, err := parseTimeFlag(listAfter, 0)
	if err != nil {
		return err
	}

	paths, err := m.Search(before, pattern.MatchString)
	if err != nil {
		return err
	}

	for _, path := range paths {
		history, err := m.History(path)
		if err != nil {
			return err
		}
		for _, e := range history {
			if e.CommitTimeNanos <= after || e.CommitTimeNanos > before {
				continue
			}
			if listSHA != "" && !matchesSHAPrefix(e, listSHA) {
				continue
			}
			printEntry(e)
		}
	}
	return nil
}

func matchesSHAPrefix(e manifest.Entry, prefix string) bool {
	sha := fmt.Sprintf("%x", e.ContentSHA)
	return len(sha) >= len(prefix) && sha[:len(prefix)] == prefix
}

func printEntry(e manifest.Entry) {
	when := time.Unix(0, e.CommitTimeNanos).UTC().Format(time.RFC3339)
	if e.Tombstone {
		fmt.Printf("%s  %s  (deleted)\n", when, e.Path)
		return
	}
	fmt.Printf("%s  %s  %x  %d bytes  mode=%o\n", when, e.Path, e.ContentSHA, e.Size, e.Mode)
}
