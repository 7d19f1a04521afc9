package nn

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"hemnist/core/ckkswrapper"
	"hemnist/core/params"
	"hemnist/core/scheme"
	"hemnist/encoding"
	"hemnist/tensor"
	"hemnist/utils"
)

func demoModel(t *testing.T) *Model {
	t.Helper()
	m, err := NewModel(utils.DemoWeights(4, 32, 1, 42))
	require.NoError(t, err)
	return m
}

func digitImage(seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	img := tensor.New(encoding.ImageSize, encoding.ImageSize)
	// a thick vertical stroke with some speckle, roughly a "1"
	for i := 4; i < 24; i++ {
		for j := 12; j < 16; j++ {
			img.Set(0.8+0.2*rng.Float64(), i, j)
		}
	}
	for i := range img.Data {
		if rng.Float64() < 0.05 {
			img.Data[i] = rng.Float64()
		}
	}
	return img
}

func plainContext(t *testing.T, p params.Profile) *scheme.PlainContext {
	t.Helper()
	ctx, err := scheme.NewPlainContext(p)
	require.NoError(t, err)
	return ctx
}

func TestNewModelChecksShapes(t *testing.T) {
	m := demoModel(t)
	require.Equal(t, 4, m.Channels)
	require.Equal(t, 32, m.Hidden)
	require.Equal(t, 1, m.Net.Levels())
	require.Equal(t, 4, m.Net.Rescales())

	w := utils.DemoWeights(4, 32, 1, 42)
	w.Layers[utils.LayerFC1] = utils.DemoWeights(3, 32, 1, 1).Layers[utils.LayerFC1]
	_, err := NewModel(w)
	require.True(t, errors.Is(err, utils.ErrWeightShape), "got %v", err)

	delete(w.Layers, utils.LayerFC2)
	_, err = NewModel(w)
	require.True(t, errors.Is(err, utils.ErrWeightShape), "got %v", err)

	_, err = NewModel(nil)
	require.Error(t, err)
}

func TestEvaluateMatchesPlainOnEveryProfile(t *testing.T) {
	m := demoModel(t)
	img := digitImage(1)
	want, err := m.ForwardPlain(img)
	require.NoError(t, err)
	require.Len(t, want, Classes)

	for _, p := range params.All() {
		t.Run(string(p.Name), func(t *testing.T) {
			client := plainContext(t, p)
			in, err := EncryptImage(client, img)
			require.NoError(t, err)
			require.Len(t, in, InputLayout(client.Slots()).Ciphertexts())

			out, err := m.Evaluate(client.PublicView(), in)
			require.NoError(t, err)
			got, err := Decode(client, out)
			require.NoError(t, err)
			for k := range want {
				require.InDelta(t, want[k], got[k], 1e-9*(1+math.Abs(want[k])))
			}
			require.Equal(t, p.DepthBudget()-1, out.Level())
		})
	}
}

func TestDepthBudget(t *testing.T) {
	m := demoModel(t)
	img := digitImage(2)

	for _, id := range []params.ProfileID{params.HighPrecision, params.Lightweight} {
		p, err := params.Get(id)
		require.NoError(t, err)
		require.Equal(t, 2, p.DepthBudget())
		ctx := plainContext(t, p)
		in, err := EncryptImage(ctx, img)
		require.NoError(t, err)
		_, err = m.Evaluate(ctx, in)
		require.NoError(t, err, id)
	}

	flat, err := params.New("FLAT", 4096, []int{30, 30})
	require.NoError(t, err)
	require.Equal(t, 0, flat.DepthBudget())
	ctx := plainContext(t, flat)
	in, err := EncryptImage(ctx, img)
	require.NoError(t, err)
	_, err = m.Evaluate(ctx, in)
	require.True(t, errors.Is(err, ErrDepthBudgetExceeded), "got %v", err)

	// an already spent budget fails the same way on a deep profile
	deep := plainContext(t, params.Default())
	in, err = EncryptImage(deep, img)
	require.NoError(t, err)
	budget := NewBudget(params.Default().DepthBudget())
	budget.Consume(budget.Remaining())
	_, err = m.EvaluateWith(deep.Evaluator(), in, budget)
	require.True(t, errors.Is(err, ErrDepthBudgetExceeded), "got %v", err)
}

func TestEvaluateWithoutBudget(t *testing.T) {
	m := demoModel(t)
	ctx := plainContext(t, params.Default())
	in, err := EncryptImage(ctx, digitImage(2))
	require.NoError(t, err)
	// no budget means nothing may be spent
	require.NotPanics(t, func() {
		_, err = m.EvaluateWith(ctx.Evaluator(), in, nil)
	})
	require.True(t, errors.Is(err, ErrDepthBudgetExceeded), "got %v", err)
}

func TestEvaluateRejectsWrongChunkCount(t *testing.T) {
	m := demoModel(t)
	ctx := plainContext(t, params.Default())
	in, err := EncryptImage(ctx, digitImage(3))
	require.NoError(t, err)
	in = append(in, in[0])
	_, err = m.Evaluate(ctx, in)
	require.Error(t, err)
}

func TestDecodeOnPublicViewFails(t *testing.T) {
	ctx := plainContext(t, params.Default())
	ct, err := ctx.Encrypt(make([]float64, Classes))
	require.NoError(t, err)
	_, err = Decode(ctx.PublicView(), ct)
	require.True(t, errors.Is(err, scheme.ErrMissingSecretKey))

	scores, err := Decode(ctx, ct)
	require.NoError(t, err)
	require.Len(t, scores, Classes)
}

func TestRequiredRotations(t *testing.T) {
	m := demoModel(t)
	rots, err := m.RequiredRotations(2048)
	require.NoError(t, err)
	// conv offsets, channel packing, pooling, replication, folds, output shifts
	for _, r := range []int{121, 15 * 121, -121, -363, -1, -11, -12, -512, -1024, 1, 256, -9, 512, 1024} {
		require.Contains(t, rots, r)
	}
	require.NotContains(t, rots, 16*121)

	rots, err = m.RequiredRotations(8192)
	require.NoError(t, err)
	require.Contains(t, rots, 48*121)
	require.Contains(t, rots, 4096)
}

func TestSoftmax(t *testing.T) {
	p := Softmax(ClassScores{1000, 1001, 999})
	require.InDelta(t, 1, p[0]+p[1]+p[2], 1e-12)
	require.False(t, math.IsNaN(p[0]))
	require.Greater(t, p[1], p[0])
	require.Equal(t, 1, ClassScores{1000, 1001, 999}.Argmax())

	u := Softmax(ClassScores{0, 0, 0, 0})
	for _, v := range u {
		require.InDelta(t, 0.25, v, 1e-12)
	}
	require.Nil(t, Softmax(nil))
	require.Equal(t, -1, ClassScores{}.Argmax())
}

func TestCompareScores(t *testing.T) {
	r, err := CompareScores(ClassScores{1, 2, 3, 4}, ClassScores{1, 2.5, 3, 3})
	require.NoError(t, err)
	require.InDelta(t, 1, r.MaxAbs, 1e-12)
	require.InDelta(t, 0.375, r.MeanAbs, 1e-12)
	require.InDelta(t, 0.25, r.MedianAbs, 1e-12)
	require.False(t, r.SameClass)

	_, err = CompareScores(ClassScores{1}, ClassScores{1, 2})
	require.Error(t, err)
}

func TestConcurrentEvaluate(t *testing.T) {
	m := demoModel(t)
	p, err := params.Get(params.BalancedPrecision)
	require.NoError(t, err)
	client := plainContext(t, p)
	server := client.PublicView()

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img := digitImage(int64(10 + i))
			want, err := m.ForwardPlain(img)
			if err != nil {
				errs[i] = err
				return
			}
			in, err := EncryptImage(client, img)
			if err != nil {
				errs[i] = err
				return
			}
			out, err := m.Evaluate(server, in)
			if err != nil {
				errs[i] = err
				return
			}
			got, err := Decode(client, out)
			if err != nil {
				errs[i] = err
				return
			}
			if r, _ := CompareScores(want, got); r.MaxAbs > 1e-9 {
				errs[i] = errors.New(r.String())
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func TestLattigoRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("key generation is slow")
	}
	// trained-size weights; the demo scale leaves scores near the noise floor
	m, err := NewModel(utils.DemoWeights(4, 32, 3, 42))
	require.NoError(t, err)
	img := digitImage(4)
	want, err := m.ForwardPlain(img)
	require.NoError(t, err)
	bound := 1e-2 * maxAbs(want)
	require.Greater(t, bound, 1e-3)

	for _, id := range []params.ProfileID{params.HighDepth, params.BalancedPrecision} {
		t.Run(string(id), func(t *testing.T) {
			p, err := params.Get(id)
			require.NoError(t, err)
			rots, err := m.RequiredRotations(p.Slots())
			require.NoError(t, err)

			client, err := ckkswrapper.NewHeContext(p, rots)
			require.NoError(t, err)
			blob, err := client.MarshalPublic()
			require.NoError(t, err)
			server, err := ckkswrapper.UnmarshalPublic(blob)
			require.NoError(t, err)
			require.False(t, server.HasSecretKey())

			in, err := EncryptImage(client, img)
			require.NoError(t, err)
			out, err := m.Evaluate(server, in)
			require.NoError(t, err)

			_, err = Decode(server, out)
			require.True(t, errors.Is(err, scheme.ErrMissingSecretKey))

			got, err := Decode(client, out)
			require.NoError(t, err)
			for k := range want {
				require.InDelta(t, want[k], got[k], bound, "class %d", k)
			}
			var sum float64
			for _, v := range Softmax(got) {
				sum += v
			}
			require.InDelta(t, 1, sum, 1e-9)
		})
	}
}

func TestLattigoShallowProfileRunsOutOfLevels(t *testing.T) {
	if testing.Short() {
		t.Skip("key generation is slow")
	}
	m := demoModel(t)
	p, err := params.Get(params.Lightweight)
	require.NoError(t, err)
	rots, err := m.RequiredRotations(p.Slots())
	require.NoError(t, err)
	client, err := ckkswrapper.NewHeContext(p, rots)
	require.NoError(t, err)

	in, err := EncryptImage(client, digitImage(5))
	require.NoError(t, err)
	// the squaring fits the depth budget, the plaintext rescales do not
	_, err = m.Evaluate(client.PublicView(), in)
	require.True(t, errors.Is(err, scheme.ErrLevelExhausted), "got %v", err)
}
