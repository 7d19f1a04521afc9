// hemnist-genweights: writes a demo weights file for the inference network
package main

import (
	"flag"
	"fmt"
	"os"

	"hemnist/nn"
	"hemnist/utils"
)

var (
	out      = flag.String("out", "weights.json", "Output file")
	channels = flag.Int("channels", 4, "Conv channels")
	hidden   = flag.Int("hidden", 32, "Hidden units of fc1")
	scale    = flag.Float64("scale", 1, "Multiplier on the initialization scale")
	seed     = flag.Uint64("seed", 42, "Random seed")
)

func main() {
	flag.Parse()

	w := utils.DemoWeights(*channels, *hidden, *scale, *seed)
	// reject geometries the network cannot be built from
	if _, err := nn.NewModel(w); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid model: %v\n", err)
		os.Exit(1)
	}
	if err := utils.SaveWeights(*out, w); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fp, err := utils.WeightsFingerprint(w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (channels=%d, hidden=%d, blake3=%s)\n", *out, *channels, *hidden, fp)
}
