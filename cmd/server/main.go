// hemnist-server: evaluates encrypted MNIST inference requests
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"hemnist/nn"
	"hemnist/split"
	"hemnist/utils"
)

var (
	mode     = flag.String("mode", "http", "Transport: http or stdio")
	listen   = flag.String("listen", ":5000", "HTTP listen address")
	weights  = flag.String("weights", "", "Model weights JSON (default: demo weights)")
	channels = flag.Int("channels", 4, "Conv channels of the demo model")
	hidden   = flag.Int("hidden", 32, "Hidden units of the demo model")
	seed     = flag.Uint64("seed", 42, "Seed of the demo weights")
	workers  = flag.Int("workers", 2, "Concurrent evaluations")
	verbose  = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose
	// stdout carries the protocol in stdio mode
	utils.Output = os.Stderr

	config := &utils.Config{WeightsPath: *weights, Mode: *mode, Listen: *listen, Workers: *workers}
	if err := utils.ValidateConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	model, err := loadModel(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load model: %v\n", err)
		os.Exit(1)
	}
	log("Model ready (channels=%d, hidden=%d, depth=%d, rescales=%d)",
		model.Channels, model.Hidden, model.Net.Levels(), model.Net.Rescales())

	server := split.NewServer(model, config.Workers)
	server.Logf = log

	switch config.Mode {
	case "stdio":
		log("Waiting for client...")
		if err := server.Serve(split.NewProtocol(os.Stdin, os.Stdout)); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	case "http":
		log("Listening on %s", config.Listen)
		if err := http.ListenAndServe(config.Listen, server.Router()); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}

	log("Server done")
}

func loadModel(config *utils.Config) (*nn.Model, error) {
	if config.WeightsPath == "" {
		log("No weights given, using demo weights (seed=%d)", *seed)
		return nn.NewModel(utils.DemoWeights(*channels, *hidden, 1, *seed))
	}
	w, err := utils.LoadWeights(config.WeightsPath)
	if err != nil {
		return nil, err
	}
	fp, err := utils.WeightsFingerprint(w)
	if err != nil {
		return nil, err
	}
	log("Loaded %s (%s)", config.WeightsPath, fp[:12])
	return nn.NewModel(w)
}

func log(format string, args ...interface{}) {
	if *verbose {
		fmt.Fprintf(os.Stderr, "[SERVER] "+format+"\n", args...)
	}
}
