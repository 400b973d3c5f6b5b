package cli

import (
	"fmt"

	"github.com/raphaelgruber/mensa/internal/metrics"
)

// printStats displays request statistics collected during this run.
func printStats(s metrics.Snapshot) {
	fmt.Println()
	fmt.Printf("Request Statistics (this run)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", s.UptimeSeconds)

	if len(s.Operations) == 0 {
		fmt.Println("No requests made.")
		return
	}
	for _, op := range s.Operations {
		fmt.Printf("\n%s:\n", op.Op)
		printOpStats(op)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
