package params

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestPredefinedProfilesValid(t *testing.T) {
	want := map[ProfileID]struct {
		n, depth, logScale int
	}{
		HighDepth:         {16384, 6, 26},
		BalancedPrecision: {8192, 4, 25},
		HighPrecision:     {8192, 2, 40},
		Lightweight:       {4096, 2, 20},
	}
	for _, p := range All() {
		require.NoError(t, p.Validate(), p.Name)
		w, ok := want[p.Name]
		require.True(t, ok, "unexpected profile %s", p.Name)
		require.Equal(t, w.n, p.RingDimension)
		require.Equal(t, w.depth, p.DepthBudget())
		require.Equal(t, w.logScale, p.LogScale())
		require.Equal(t, p.RingDimension/2, p.Slots())

		chain := p.ModulusChain
		require.Equal(t, chain[0], chain[len(chain)-1])
		for _, b := range chain[1 : len(chain)-1] {
			require.Equal(t, chain[1], b)
		}
	}
	require.Len(t, All(), 4)
}

func TestDefaultIsHighDepth(t *testing.T) {
	p := Default()
	if p.Name != HighDepth {
		t.Fatalf("Default() = %s, want %s", p.Name, HighDepth)
	}
	sel, err := Select("")
	require.NoError(t, err)
	if diff := cmp.Diff(p, sel); diff != "" {
		t.Errorf("Select(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectCaseInsensitive(t *testing.T) {
	p, err := Select("lightweight")
	require.NoError(t, err)
	require.Equal(t, Lightweight, p.Name)

	_, err = Select("ULTRA")
	require.True(t, errors.Is(err, ErrInvalidProfile))
}

func TestNewRejectsBrokenChains(t *testing.T) {
	cases := []struct {
		name  string
		n     int
		chain []int
	}{
		{"asymmetric", 8192, []int{60, 40, 40, 50}},
		{"non-uniform interior", 8192, []int{31, 25, 26, 31}},
		{"single prime", 8192, []int{31}},
		{"bad ring dimension", 6000, []int{30, 20, 30}},
		{"zero width", 4096, []int{30, 0, 30}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("custom", tc.n, tc.chain)
			if !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("New(%v) error = %v, want ErrInvalidProfile", tc.chain, err)
			}
		})
	}
}

func TestZeroDepthProfile(t *testing.T) {
	p, err := New("flat", 4096, []int{30, 30})
	require.NoError(t, err)
	require.Equal(t, 0, p.DepthBudget())
	require.Equal(t, 30, p.LogScale())
}

func TestProfilesAreCopies(t *testing.T) {
	p := Default()
	p.ModulusChain[1] = 99
	require.Equal(t, 26, Default().ModulusChain[1])
}

func TestLiteralMapping(t *testing.T) {
	p, err := Get(BalancedPrecision)
	require.NoError(t, err)
	lit := p.Literal()
	require.Equal(t, 13, lit.LogN)
	require.Equal(t, []int{31, 25, 25, 25, 25}, lit.LogQ)
	require.Equal(t, []int{31}, lit.LogP)
	require.Equal(t, 25, lit.LogDefaultScale)

	prm, err := p.Parameters()
	require.NoError(t, err)
	require.Equal(t, p.DepthBudget(), prm.MaxLevel())
	require.Equal(t, p.Slots(), prm.MaxSlots())
}
