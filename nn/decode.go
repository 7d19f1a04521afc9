package nn

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"hemnist/core/scheme"
)

// ClassScores are the unnormalized outputs of the network, one per digit.
type ClassScores []float64

// Argmax returns the predicted class.
func (s ClassScores) Argmax() int {
	if len(s) == 0 {
		return -1
	}
	return floats.MaxIdx(s)
}

// Decode decrypts the scores ciphertext. It needs a context holding the
// secret key and fails with scheme.ErrMissingSecretKey otherwise.
func Decode(ctx scheme.Context, ct scheme.Ciphertext) (ClassScores, error) {
	if !ctx.HasSecretKey() {
		return nil, scheme.ErrMissingSecretKey
	}
	vals, err := ctx.Decrypt(ct)
	if err != nil {
		return nil, err
	}
	if len(vals) < Classes {
		return nil, fmt.Errorf("decrypted %d slots, want at least %d", len(vals), Classes)
	}
	return ClassScores(append([]float64(nil), vals[:Classes]...)), nil
}

// Softmax normalizes scores into probabilities. The max is subtracted
// before exponentiating.
func Softmax(scores ClassScores) []float64 {
	if len(scores) == 0 {
		return nil
	}
	out := append([]float64(nil), scores...)
	floats.AddConst(-floats.Max(out), out)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// ScoreReport summarizes the deviation of decrypted scores from the
// plaintext reference.
type ScoreReport struct {
	MaxAbs    float64
	MeanAbs   float64
	MedianAbs float64
	StdDev    float64
	SameClass bool
}

func (r ScoreReport) String() string {
	return fmt.Sprintf("max %.3e mean %.3e median %.3e sd %.3e same class %v",
		r.MaxAbs, r.MeanAbs, r.MedianAbs, r.StdDev, r.SameClass)
}

// CompareScores measures |got - want| slot by slot.
func CompareScores(want, got ClassScores) (ScoreReport, error) {
	if len(want) != len(got) || len(want) == 0 {
		return ScoreReport{}, fmt.Errorf("cannot compare %d scores with %d", len(want), len(got))
	}
	diff := make([]float64, len(want))
	for i := range want {
		diff[i] = math.Abs(want[i] - got[i])
	}
	var r ScoreReport
	var err error
	if r.MaxAbs, err = stats.Max(diff); err != nil {
		return r, err
	}
	if r.MeanAbs, err = stats.Mean(diff); err != nil {
		return r, err
	}
	if r.MedianAbs, err = stats.Median(diff); err != nil {
		return r, err
	}
	if r.StdDev, err = stats.StandardDeviation(diff); err != nil {
		return r, err
	}
	r.SameClass = want.Argmax() == got.Argmax()
	return r, nil
}
