// hemnist-infer: encrypted inference in one process, checked against the
// plaintext network
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"hemnist/core/ckkswrapper"
	"hemnist/core/params"
	"hemnist/core/scheme"
	"hemnist/encoding"
	"hemnist/nn"
	"hemnist/tensor"
	"hemnist/utils"
)

var (
	weightsFile = flag.String("weights", "", "Weights JSON file (default: demo weights)")
	dataPath    = flag.String("data", "", "MNIST CSV file (default: random image)")
	samples     = flag.Int("samples", 1, "Images to classify")
	profile     = flag.String("profile", "", "Parameter profile (default: HIGH_DEPTH)")
	backend     = flag.String("backend", "ckks", "Backend: ckks or plain")
	verbose     = flag.Bool("verbose", true, "Verbose output")
	topK        = flag.Int("topk", 3, "Top predictions to show")
	seed        = flag.Int64("seed", 42, "Random seed")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	fmt.Println("=== hemnist encrypted inference ===")

	p, err := params.Select(*profile)
	if err != nil {
		fail("%v", err)
	}

	var weights *utils.ModelWeights
	if *weightsFile == "" {
		fmt.Println("No weights file. Running with demo weights...")
		weights = utils.DemoWeights(4, 32, 1, uint64(*seed))
	} else if weights, err = utils.LoadWeights(*weightsFile); err != nil {
		fail("Error loading weights: %v", err)
	}
	model, err := nn.NewModel(weights)
	if err != nil {
		fail("Error building model: %v", err)
	}
	fmt.Printf("Model: conv(%d) -> pool -> square -> fc(%d) -> fc(%d)\n", model.Channels, model.Hidden, nn.Classes)
	fmt.Printf("Profile: %s, depth budget %d, network depth %d\n", p, p.DepthBudget(), model.Net.Levels())

	data, err := loadSamples()
	if err != nil {
		fail("Error loading data: %v", err)
	}

	var stats utils.TimingStats
	start := time.Now()

	var ctx scheme.Context
	err = utils.Track(&stats.KeyGenTime, func() error {
		if *backend == "plain" {
			ctx, err = scheme.NewPlainContext(p)
			return err
		}
		rots, err := model.RequiredRotations(p.Slots())
		if err != nil {
			return err
		}
		ctx, err = ckkswrapper.NewHeContext(p, rots)
		return err
	})
	if err != nil {
		fail("Error creating context: %v", err)
	}
	server := ctx.PublicView()

	worst := 0.0
	for i, s := range data {
		var cts []scheme.Ciphertext
		if err := utils.Track(&stats.EncryptionTime, func() (err error) {
			cts, err = nn.EncryptImage(ctx, s.Image)
			return err
		}); err != nil {
			fail("Encryption failed: %v", err)
		}

		var out scheme.Ciphertext
		if err := utils.Track(&stats.EvaluationTime, func() (err error) {
			out, err = model.Evaluate(server, cts)
			return err
		}); err != nil {
			fail("Evaluation failed: %v", err)
		}

		var scores nn.ClassScores
		if err := utils.Track(&stats.DecryptionTime, func() (err error) {
			scores, err = nn.Decode(ctx, out)
			return err
		}); err != nil {
			fail("Decryption failed: %v", err)
		}

		var plain nn.ClassScores
		if err := utils.Track(&stats.PlainForwardTime, func() (err error) {
			plain, err = model.ForwardPlain(s.Image)
			return err
		}); err != nil {
			fail("Plaintext forward failed: %v", err)
		}

		report, err := nn.CompareScores(plain, scores)
		if err != nil {
			fail("%v", err)
		}
		worst = max(worst, report.MaxAbs)

		fmt.Printf("\nSample %d (label %d, output level %d)\n", i, s.Label, out.Level())
		printTop(scores)
		fmt.Printf("  vs plaintext: %s\n", report)
	}

	stats.TotalTime = time.Since(start)
	fmt.Printf("\nLargest score error: %.3g\n", worst)
	utils.PrintTimingStats(&stats, len(data))
}

func printTop(scores nn.ClassScores) {
	probs := nn.Softmax(scores)
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	for k := 0; k < *topK && k < len(idx); k++ {
		fmt.Printf("  %d. class %d: %.4f (score %.4f)\n", k+1, idx[k], probs[idx[k]], scores[idx[k]])
	}
}

func loadSamples() ([]tensor.Sample, error) {
	if *dataPath != "" {
		return tensor.LoadMNISTCSV(*dataPath, *samples)
	}
	rng := rand.New(rand.NewSource(*seed))
	out := make([]tensor.Sample, *samples)
	for i := range out {
		img := tensor.New(encoding.ImageSize, encoding.ImageSize)
		for j := range img.Data {
			img.Data[j] = rng.Float64()
		}
		out[i] = tensor.Sample{Label: -1, Image: img}
	}
	return out, nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
