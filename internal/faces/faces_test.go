package faces

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockDetector(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	d := NewMockDetector(1)

	for i := 0; i < 20; i++ {
		dets, err := d.Detect(context.Background(), img, "p1")
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(dets), 1)
		require.LessOrEqual(t, len(dets), 3)

		for _, det := range dets {
			assert.Len(t, det.Descriptor, DescriptorSize)
			assert.GreaterOrEqual(t, det.Confidence, 0.8)
			assert.Less(t, det.Confidence, 1.0)
			assert.GreaterOrEqual(t, det.Box.Width, 80.0)
			assert.Less(t, det.Box.X, 540.0)
		}
	}
}

func TestMockDetector_Seeded(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	a, err := NewMockDetector(7).Detect(context.Background(), img, "p")
	require.NoError(t, err)
	b, err := NewMockDetector(7).Detect(context.Background(), img, "p")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Images smaller than a face box pin the origin.
	for _, det := range a {
		assert.Zero(t, det.Box.X)
		assert.Zero(t, det.Box.Y)
	}
}

func TestMockDetector_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockDetector(1).Detect(ctx, image.NewRGBA(image.Rect(0, 0, 1, 1)), "p")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEuclideanMatcher(t *testing.T) {
	m := EuclideanMatcher{Threshold: DefaultThreshold}
	candidates := []Candidate{
		{PersonID: "far", Descriptor: []float32{1, 1}},
		{PersonID: "near", Descriptor: []float32{0.1, 0}},
		{PersonID: "nearer", Descriptor: []float32{0.05, 0}},
		{PersonID: "short", Descriptor: []float32{0}},
	}

	t.Run("Nearest Below Threshold", func(t *testing.T) {
		id, ok := m.Match([]float32{0, 0}, candidates)
		assert.True(t, ok)
		assert.Equal(t, "nearer", id)
	})

	t.Run("Nothing Close", func(t *testing.T) {
		_, ok := m.Match([]float32{5, 5}, candidates)
		assert.False(t, ok)
	})

	t.Run("Threshold Is Exclusive", func(t *testing.T) {
		edge := EuclideanMatcher{Threshold: 5}
		cands := []Candidate{{PersonID: "edge", Descriptor: []float32{3, 4}}}
		require.Equal(t, 5.0, Distance([]float32{0, 0}, cands[0].Descriptor))

		_, ok := edge.Match([]float32{0, 0}, cands)
		assert.False(t, ok, "distance equal to the threshold must not match")

		_, ok = edge.Match([]float32{0, 0.001}, cands)
		assert.True(t, ok)
	})

	t.Run("No Candidates", func(t *testing.T) {
		_, ok := m.Match([]float32{0, 0}, nil)
		assert.False(t, ok)
	})
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance([]float32{0, 0}, []float32{3, 4}), 1e-9)
	assert.Zero(t, Distance([]float32{1, 2}, []float32{1, 2}))
}
