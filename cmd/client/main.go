// hemnist-client: encrypts MNIST images and decrypts the server's scores
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"hemnist/core/ckkswrapper"
	"hemnist/core/params"
	"hemnist/encoding"
	"hemnist/nn"
	"hemnist/split"
	"hemnist/tensor"
	"hemnist/utils"
)

var (
	mode      = flag.String("mode", "http", "Transport: http or stdio")
	serverURL = flag.String("server", "http://localhost:5000", "Server base URL in http mode")
	profile   = flag.String("profile", "", "Parameter profile (default: HIGH_DEPTH)")
	weights   = flag.String("weights", "", "Model weights JSON, used for rotation keys and the plaintext check")
	channels  = flag.Int("channels", 4, "Conv channels of the demo model")
	hidden    = flag.Int("hidden", 32, "Hidden units of the demo model")
	seed      = flag.Int64("seed", 42, "Random seed")
	dataPath  = flag.String("data", "", "MNIST CSV file (default: synthetic digits)")
	samples   = flag.Int("samples", 1, "Images to classify")
	verbose   = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose
	utils.Output = os.Stderr

	config := &utils.Config{Profile: *profile, WeightsPath: *weights, Mode: *mode, Listen: *serverURL, Workers: 1}
	if err := utils.ValidateConfig(config); err != nil {
		fail("Invalid configuration: %v", err)
	}
	p, err := params.Select(config.Profile)
	if err != nil {
		fail("%v", err)
	}

	model, err := loadModel(config)
	if err != nil {
		fail("Failed to load model: %v", err)
	}
	data, err := loadSamples()
	if err != nil {
		fail("Failed to load data: %v", err)
	}

	var stats utils.TimingStats
	start := time.Now()

	log("Generating keys for %s", p)
	var session *split.Session
	err = utils.Track(&stats.KeyGenTime, func() error {
		rots, err := model.RequiredRotations(p.Slots())
		if err != nil {
			return err
		}
		ctx, err := ckkswrapper.NewHeContext(p, rots)
		if err != nil {
			return err
		}
		session, err = split.NewSession(ctx)
		return err
	})
	if err != nil {
		fail("Key generation failed: %v", err)
	}
	log("Public context is %.1f MB", float64(session.PublicSize())/(1<<20))

	send := sendHTTP
	var protocol *split.Protocol
	if config.Mode == "stdio" {
		protocol = split.NewProtocol(os.Stdin, os.Stdout)
		send = func(req *split.InferenceRequest) (*split.InferenceResponse, error) {
			if err := protocol.SendRequest(req); err != nil {
				return nil, err
			}
			return protocol.ReceiveResponse()
		}
	}

	correct := 0
	for i, s := range data {
		var req *split.InferenceRequest
		if err := utils.Track(&stats.EncryptionTime, func() (err error) {
			req, err = session.Request(s.Image)
			return err
		}); err != nil {
			fail("Encryption failed: %v", err)
		}

		var resp *split.InferenceResponse
		if err := utils.Track(&stats.EvaluationTime, func() (err error) {
			resp, err = send(req)
			return err
		}); err != nil {
			log("Sample %d: %v", i, err)
			continue
		}

		var scores nn.ClassScores
		if err := utils.Track(&stats.DecryptionTime, func() (err error) {
			scores, err = session.Scores(resp)
			return err
		}); err != nil {
			log("Sample %d: %v", i, err)
			continue
		}

		var plain nn.ClassScores
		utils.Track(&stats.PlainForwardTime, func() (err error) {
			plain, err = model.ForwardPlain(s.Image)
			return err
		})

		pred := scores.Argmax()
		if pred == s.Label {
			correct++
		}
		probs := nn.Softmax(scores)
		fmt.Printf("Sample %d: label=%d predicted=%d (p=%.3f, plaintext=%d)\n", i, s.Label, pred, probs[pred], plain.Argmax())
		if r, err := nn.CompareScores(plain, scores); err == nil {
			log("Sample %d: %s", i, r)
		}
	}

	if protocol != nil {
		protocol.SendDone()
	}
	stats.TotalTime = time.Since(start)
	fmt.Printf("Accuracy: %d/%d\n", correct, len(data))
	utils.PrintTimingStats(&stats, len(data))
}

func sendHTTP(req *split.InferenceRequest) (*split.InferenceResponse, error) {
	return split.PostInference(&http.Client{Timeout: 10 * time.Minute}, *serverURL, req)
}

func loadModel(config *utils.Config) (*nn.Model, error) {
	if config.WeightsPath == "" {
		return nn.NewModel(utils.DemoWeights(*channels, *hidden, 1, uint64(*seed)))
	}
	w, err := utils.LoadWeights(config.WeightsPath)
	if err != nil {
		return nil, err
	}
	return nn.NewModel(w)
}

func loadSamples() ([]tensor.Sample, error) {
	if *dataPath != "" {
		return tensor.LoadMNISTCSV(*dataPath, *samples)
	}
	rng := rand.New(rand.NewSource(*seed))
	out := make([]tensor.Sample, *samples)
	for i := range out {
		out[i] = tensor.Sample{Label: -1, Image: syntheticDigit(rng)}
	}
	return out, nil
}

// syntheticDigit draws a noisy vertical stroke.
func syntheticDigit(rng *rand.Rand) *tensor.Tensor {
	img := tensor.New(encoding.ImageSize, encoding.ImageSize)
	col := 10 + rng.Intn(8)
	for i := 4; i < 24; i++ {
		for j := col; j < col+3; j++ {
			img.Set(0.7+0.3*rng.Float64(), i, j)
		}
	}
	return img
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func log(format string, args ...interface{}) {
	if *verbose {
		fmt.Fprintf(os.Stderr, "[CLIENT] "+format+"\n", args...)
	}
}
