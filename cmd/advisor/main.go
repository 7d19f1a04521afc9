// hemnist-advisor: recommends a parameter profile for the inference network
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"hemnist/advisor"
	"hemnist/core/params"
	"hemnist/nn"
	"hemnist/utils"
)

var (
	profiles = flag.String("profiles", "", "Comma separated profiles to consider (default: all)")
	weights  = flag.String("weights", "", "Model weights JSON (default: demo weights)")
	rate     = flag.Float64("rate", 10, "Network rate in MB/s")
	measure  = flag.Bool("measure", false, "Time rotations and products on real keys instead of the default costs")
	samples  = flag.Int("samples", 8, "Operations timed per worker when measuring")
	numCPU   = flag.Int("cpu", runtime.NumCPU(), "number of CPUs to use")
)

func main() {
	flag.Parse()
	runtime.GOMAXPROCS(*numCPU)
	fmt.Printf("Number of CPUs used: %d\n", *numCPU)

	candidates, err := advisor.ParseProfiles(*profiles)
	if err != nil {
		fail("%v", err)
	}

	w := utils.DemoWeights(4, 32, 1, 42)
	if *weights != "" {
		if w, err = utils.LoadWeights(*weights); err != nil {
			fail("%v", err)
		}
	}
	model, err := nn.NewModel(w)
	if err != nil {
		fail("%v", err)
	}

	var measured map[params.ProfileID]advisor.Costs
	if *measure {
		measured = make(map[params.ProfileID]advisor.Costs)
		for _, p := range candidates {
			c, err := advisor.MeasureCosts(p, *samples, *numCPU, *rate)
			if err != nil {
				fail("measuring %s: %v", p.Name, err)
			}
			fmt.Printf("%s: rotation %v, product %v\n", p.Name, c.Rotation, c.Mul)
			measured[p.Name] = c
		}
	}

	fmt.Printf("Smallest usable ring dimension: %d\n", advisor.MinRingDimension(model))
	fmt.Println("----- Profiles -----")
	for _, p := range candidates {
		var c *advisor.Costs
		if mc, ok := measured[p.Name]; ok {
			c = &mc
		}
		e, err := advisor.EstimateProfile(model, p, c)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%-20s depth %d/%d  levels %d/%d  chunks %d  keys %d  upload %.1f MB  est %v  runnable=%v\n",
			p.Name, e.DepthNeeded, p.DepthBudget(), e.RescalesNeeded, p.DepthBudget(),
			e.Chunks, e.Keys, e.Upload/(1<<20), e.Estimated, e.Runnable())
		fmt.Printf("%-20s %s\n", "", e.Counts)
	}

	best, err := advisor.Advise(model, candidates, measured)
	if err != nil {
		fail("%v", err)
	}
	fmt.Println("----- Recommendation -----")
	for i, e := range best {
		fmt.Printf("%d. %s, Estimated Time: %v\n", i+1, e.Profile.Name, e.Estimated)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
