package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for the phases of one or more
// encrypted inferences.
type TimingStats struct {
	TotalTime        time.Duration
	KeyGenTime       time.Duration
	EncodingTime     time.Duration
	EncryptionTime   time.Duration
	TransferTime     time.Duration
	EvaluationTime   time.Duration
	DecryptionTime   time.Duration
	PlainForwardTime time.Duration
}

// Track runs fn and adds its wall time to *d.
func Track(d *time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()
	*d += time.Since(start)
	return err
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, samples int) {
	if !Verbose {
		return
	}
	if samples <= 0 {
		samples = 1
	}
	pct := func(d time.Duration) float64 {
		if stats.TotalTime == 0 {
			return 0
		}
		return float64(d) / float64(stats.TotalTime) * 100
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Samples: %d\n", samples)
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	fmt.Fprintf(Output, "  Key generation: %v (%.1f%%)\n", stats.KeyGenTime, pct(stats.KeyGenTime))
	fmt.Fprintf(Output, "  Encoding: %v (%.1f%%)\n", stats.EncodingTime, pct(stats.EncodingTime))
	fmt.Fprintf(Output, "  Encryption: %v (%.1f%%)\n", stats.EncryptionTime, pct(stats.EncryptionTime))
	fmt.Fprintf(Output, "  Transfer: %v (%.1f%%)\n", stats.TransferTime, pct(stats.TransferTime))
	fmt.Fprintf(Output, "  Encrypted evaluation: %v (%.1f%%)\n", stats.EvaluationTime, pct(stats.EvaluationTime))
	fmt.Fprintf(Output, "  Decryption: %v (%.1f%%)\n", stats.DecryptionTime, pct(stats.DecryptionTime))
	fmt.Fprintf(Output, "  Plaintext reference: %v (%.1f%%)\n", stats.PlainForwardTime, pct(stats.PlainForwardTime))
	fmt.Fprintln(Output, "\nPer sample:")
	fmt.Fprintf(Output, "  Average evaluation time: %v\n", stats.EvaluationTime/time.Duration(samples))
	fmt.Fprintf(Output, "  Average encryption time: %v\n", stats.EncryptionTime/time.Duration(samples))
	fmt.Fprintf(Output, "  Average decryption time: %v\n", stats.DecryptionTime/time.Duration(samples))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
