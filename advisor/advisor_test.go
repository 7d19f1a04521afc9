package advisor

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hemnist/core/params"
	"hemnist/nn"
	"hemnist/utils"
)

func demoModel(t *testing.T) *nn.Model {
	t.Helper()
	m, err := nn.NewModel(utils.DemoWeights(4, 32, 1, 5))
	require.NoError(t, err)
	return m
}

func profile(t *testing.T, id params.ProfileID) params.Profile {
	t.Helper()
	p, err := params.Get(id)
	require.NoError(t, err)
	return p
}

func TestSmallestPowerOfTwo(t *testing.T) {
	require.Equal(t, 1, SmallestPowerOfTwo(1))
	require.Equal(t, 512, SmallestPowerOfTwo(496))
	require.Equal(t, 512, SmallestPowerOfTwo(512))
	require.Equal(t, 1024, SmallestPowerOfTwo(513))

	// 4 channels of 121 windows plus the pooling shift of 12 fill 496 slots
	require.Equal(t, 1024, MinRingDimension(demoModel(t)))
}

func TestSizes(t *testing.T) {
	lw := profile(t, params.Lightweight)
	require.Equal(t, float64(2*4096*3*8), CiphertextSize(lw, 2))
	require.Equal(t, float64(3*2*4096*4*8), GaloisKeySize(lw))
	require.Equal(t, time.Second, CalculateNetworkTime(10*1024*1024, 10))
}

func TestCountOperations(t *testing.T) {
	m := demoModel(t)
	bp, err := CountOperations(m, profile(t, params.BalancedPrecision))
	require.NoError(t, err)
	require.Equal(t, 1, bp.Muls)
	require.Positive(t, bp.Rotations)
	require.Positive(t, bp.PlainMuls)
	require.GreaterOrEqual(t, bp.Rescales, m.Net.Rescales())

	// same ring dimension, same packing, same operations
	hp, err := CountOperations(m, profile(t, params.HighPrecision))
	require.NoError(t, err)
	require.Equal(t, bp, hp)

	// the reference backend counts even where CKKS would run out of levels
	_, err = CountOperations(m, profile(t, params.Lightweight))
	require.NoError(t, err)
}

func TestEstimateProfile(t *testing.T) {
	m := demoModel(t)

	lw, err := EstimateProfile(m, profile(t, params.Lightweight), nil)
	require.NoError(t, err)
	require.True(t, lw.FitsBudget)
	require.False(t, lw.RunsOnCKKS)
	require.False(t, lw.Runnable())

	hd, err := EstimateProfile(m, profile(t, params.HighDepth), nil)
	require.NoError(t, err)
	require.True(t, hd.Runnable())
	require.Equal(t, 1, hd.Chunks)
	require.Equal(t, 1024, hd.MinRing)
	require.Positive(t, hd.Keys)
	require.Equal(t, hd.Transfer+hd.Compute, hd.Estimated)
	require.Greater(t, hd.Upload, hd.KeyBytes)

	fixed := Costs{Rotation: time.Millisecond, Mul: time.Millisecond, Rate: 1}
	measured, err := EstimateProfile(m, profile(t, params.HighDepth), &fixed)
	require.NoError(t, err)
	want := time.Duration(measured.Counts.Rotations+measured.Counts.Muls+measured.Counts.PlainMuls) * time.Millisecond
	require.Equal(t, want, measured.Compute)

	_, err = EstimateProfile(m, params.Profile{Name: "BROKEN", RingDimension: 100, ModulusChain: []int{30, 30}}, nil)
	require.ErrorIs(t, err, params.ErrInvalidProfile)
}

func TestAdvise(t *testing.T) {
	m := demoModel(t)
	got, err := Advise(m, params.All(), nil)
	require.NoError(t, err)

	var names []params.ProfileID
	for _, e := range got {
		names = append(names, e.Profile.Name)
		require.True(t, e.Runnable())
	}
	require.ElementsMatch(t, []params.ProfileID{params.HighDepth, params.BalancedPrecision}, names)
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Estimated < got[j].Estimated }))

	_, err = Advise(m, []params.Profile{profile(t, params.Lightweight)}, nil)
	require.Error(t, err)
}

func TestParseProfiles(t *testing.T) {
	all, err := ParseProfiles("")
	require.NoError(t, err)
	require.Len(t, all, 4)

	two, err := ParseProfiles("lightweight, HIGH_DEPTH")
	require.NoError(t, err)
	require.Equal(t, params.Lightweight, two[0].Name)
	require.Equal(t, params.HighDepth, two[1].Name)

	_, err = ParseProfiles("HIGH_DEPTH,NOPE")
	require.Error(t, err)
}

func TestMeasureCostsRejectsEmptyRuns(t *testing.T) {
	lw := profile(t, params.Lightweight)
	_, err := MeasureCosts(lw, 0, 2, 5)
	require.Error(t, err)
	_, err = MeasureCosts(lw, 2, 0, 5)
	require.Error(t, err)
	_, err = MeasureCosts(lw, -1, -1, 5)
	require.Error(t, err)
}

func TestMeasureCosts(t *testing.T) {
	if testing.Short() {
		t.Skip("key generation is slow")
	}
	c, err := MeasureCosts(profile(t, params.Lightweight), 2, 2, 5)
	require.NoError(t, err)
	require.Greater(t, int64(c.Rotation), int64(0))
	require.Greater(t, int64(c.Mul), int64(0))
	require.Equal(t, 5.0, c.Rate)
}
