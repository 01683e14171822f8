// util/util.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

package util

import "fmt"

// FmtBytes formats a byte count the way the engine's run summary prints
// blob and manifest sizes.
func FmtBytes(n int64) string {
	switch {
	case n >= 1024*1024*1024*1024:
		return fmt.Sprintf("%.2f TiB", float64(n)/(1024.*1024.*1024.*1024.))
	case n >= 1024*1024*1024:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1024.*1024.*1024.))
	case n > 1024*1024:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1024.*1024.))
	case n > 1024:
		return fmt.Sprintf("%.2f kiB", float64(n)/1024.)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
