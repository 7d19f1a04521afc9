// Package advisor estimates what running the inference network costs under
// each parameter profile, and which profiles can run it at all.
package advisor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"hemnist/core/ckkswrapper"
	"hemnist/core/params"
	"hemnist/core/scheme"
	"hemnist/encoding"
	"hemnist/nn"
	"hemnist/tensor"
)

// Estimate is the cost of one encrypted inference under a profile.
type Estimate struct {
	Profile params.Profile

	DepthNeeded    int // ciphertext products
	RescalesNeeded int // modulus levels the CKKS backend spends
	FitsBudget     bool
	RunsOnCKKS     bool

	Chunks    int
	MinRing   int // smallest ring dimension whose slots hold the feature span
	Keys      int // Galois keys to generate
	Counts    OpCounts
	KeyBytes  float64
	CtBytes   float64
	Upload    float64 // public context plus encrypted image, bytes
	Transfer  time.Duration
	Compute   time.Duration
	Estimated time.Duration
}

// Runnable reports whether the profile can evaluate the network end to end.
func (e Estimate) Runnable() bool { return e.FitsBudget && e.RunsOnCKKS }

// SmallestPowerOfTwo returns the smallest power of two not below x.
func SmallestPowerOfTwo(x int) int {
	return int(math.Pow(2, math.Ceil(math.Log2(float64(x)))))
}

// MinRingDimension is the smallest ring dimension whose slot count holds
// the pooled feature maps of m in one power-of-two block.
func MinRingDimension(m *nn.Model) int {
	side := (encoding.ImageSize-encoding.KernelSize)/encoding.Stride + 1
	shift := (nn.PoolSize-1)*side + nn.PoolSize - 1
	return 2 * SmallestPowerOfTwo(m.Channels*encoding.Windows+shift)
}

// CiphertextSize is the size in bytes of a degree-1 ciphertext at level.
func CiphertextSize(p params.Profile, level int) float64 {
	return float64(2*p.RingDimension*(level+1)) * 8
}

// GaloisKeySize is the size in bytes of one key-switching key: one RNS
// digit per Q prime, each a pair of polynomials over Q and the special
// prime.
func GaloisKeySize(p params.Profile) float64 {
	digits := len(p.ModulusChain) - 1
	return float64(digits*2*p.RingDimension*len(p.ModulusChain)) * 8
}

// CalculateNetworkTime converts a transfer size in bytes at rate MB/s to
// a duration.
func CalculateNetworkTime(bytes float64, rate float64) time.Duration {
	return time.Duration(bytes / (rate * 1024 * 1024) * float64(time.Second))
}

// Costs are the per-operation timings the estimate is built from.
type Costs struct {
	Rotation time.Duration
	Mul      time.Duration // plaintext or ciphertext product
	Rate     float64       // network rate in MB/s
}

// DefaultCosts are rough single-core figures for N = 2^13 with a six prime
// chain, scaled linearly with the ring dimension and the chain length.
var DefaultCosts = Costs{Rotation: 4 * time.Millisecond, Mul: 300 * time.Microsecond, Rate: 10}

func (c Costs) scaled(p params.Profile) Costs {
	f := float64(p.RingDimension) / 8192 * float64(len(p.ModulusChain)) / 6
	return Costs{
		Rotation: time.Duration(float64(c.Rotation) * f),
		Mul:      time.Duration(float64(c.Mul) * f),
		Rate:     c.Rate,
	}
}

// EstimateProfile counts the operations of one evaluation of m under p and
// turns them into sizes and times. measured, when non-nil, replaces the
// scaled default costs.
func EstimateProfile(m *nn.Model, p params.Profile, measured *Costs) (Estimate, error) {
	if err := p.Validate(); err != nil {
		return Estimate{}, err
	}
	slots := p.Slots()
	rots, err := m.RequiredRotations(slots)
	if err != nil {
		return Estimate{}, fmt.Errorf("%s: %w", p.Name, err)
	}
	counts, err := CountOperations(m, p)
	if err != nil {
		return Estimate{}, err
	}

	e := Estimate{
		Profile:        p,
		DepthNeeded:    m.Net.Levels(),
		RescalesNeeded: m.Net.Rescales(),
		FitsBudget:     m.Net.Levels() <= p.DepthBudget(),
		RunsOnCKKS:     m.Net.Rescales() <= p.DepthBudget(),
		Chunks:         nn.InputLayout(slots).Ciphertexts(),
		MinRing:        MinRingDimension(m),
		Keys:           len(rots),
		Counts:         counts,
	}
	e.KeyBytes = float64(e.Keys+1) * GaloisKeySize(p)
	e.CtBytes = CiphertextSize(p, p.DepthBudget())
	e.Upload = e.KeyBytes + float64(e.Chunks)*e.CtBytes

	costs := DefaultCosts.scaled(p)
	if measured != nil {
		costs = *measured
	}
	e.Transfer = CalculateNetworkTime(e.Upload, costs.Rate)
	e.Compute = time.Duration(counts.Rotations)*costs.Rotation + time.Duration(counts.Muls+counts.PlainMuls)*costs.Mul
	e.Estimated = e.Transfer + e.Compute
	return e, nil
}

// Advise estimates every profile and returns the runnable ones, fastest
// first.
func Advise(m *nn.Model, profiles []params.Profile, measured map[params.ProfileID]Costs) ([]Estimate, error) {
	var ok []Estimate
	for _, p := range profiles {
		var c *Costs
		if mc, found := measured[p.Name]; found {
			c = &mc
		}
		e, err := EstimateProfile(m, p, c)
		if err != nil {
			return nil, err
		}
		if e.Runnable() {
			ok = append(ok, e)
		}
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("no profile can run a network of depth %d with %d rescales, please try another profile", m.Net.Levels(), m.Net.Rescales())
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Estimated < ok[j].Estimated })
	return ok, nil
}

// ParseProfiles resolves a comma separated list of profile names. An empty
// list selects every profile.
func ParseProfiles(s string) ([]params.Profile, error) {
	if strings.TrimSpace(s) == "" {
		return params.All(), nil
	}
	var out []params.Profile
	for _, part := range strings.Split(s, ",") {
		p, err := params.Select(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// MeasureCosts times rotations and products on real ciphertexts of p,
// spreading the samples over workers goroutines.
func MeasureCosts(p params.Profile, samples, workers int, rate float64) (Costs, error) {
	if samples <= 0 || workers <= 0 {
		return Costs{}, fmt.Errorf("need at least one sample and one worker, got %d samples on %d workers", samples, workers)
	}
	h, err := ckkswrapper.NewHeContext(p, []int{1})
	if err != nil {
		return Costs{}, err
	}
	ct, err := h.Encrypt(make([]float64, 16))
	if err != nil {
		return Costs{}, err
	}
	mask := make([]float64, h.Slots())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	run := func(op func(ev scheme.Evaluator) error) time.Duration {
		start := time.Now()
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				ev := h.Evaluator()
				for i := 0; i < samples; i++ {
					if err := op(ev); err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
				}
			}()
		}
		wg.Wait()
		return time.Since(start) / time.Duration(samples*workers)
	}

	c := Costs{Rate: rate}
	c.Rotation = run(func(ev scheme.Evaluator) error { _, err := ev.Rotate(ct, 1); return err })
	c.Mul = run(func(ev scheme.Evaluator) error { _, err := ev.MulPlain(ct, mask); return err })
	return c, firstErr
}

// blankImage is the input used to count operations; the counts do not
// depend on pixel values.
func blankImage() *tensor.Tensor {
	return tensor.New(encoding.ImageSize, encoding.ImageSize)
}
