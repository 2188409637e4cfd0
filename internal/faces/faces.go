// Package faces defines the face detection and matching collaborators the
// gallery calls after a photo is admitted. Detection is opaque to the storage
// core; MockDetector produces synthetic detections.
package faces

import (
	"context"
	"image"
	"math"
	"math/rand"
	"sync"
)

// DescriptorSize is the length of a face descriptor.
const DescriptorSize = 128

// DefaultThreshold bounds the descriptor distance between two faces of the
// same person. Distances strictly below it match; equal distances do not.
const DefaultThreshold = 0.6

// Box is a face bounding box in source image pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is a single detected face.
type Detection struct {
	Box        Box       `json:"boundingBox"`
	Descriptor []float32 `json:"descriptor"`
	Confidence float64   `json:"confidence"`
}

// Detector finds faces in an image.
type Detector interface {
	Detect(ctx context.Context, img image.Image, photoID string) ([]Detection, error)
}

// MockDetector returns one to three random faces per image.
type MockDetector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockDetector(seed int64) *MockDetector {
	return &MockDetector{rng: rand.New(rand.NewSource(seed))}
}

func (d *MockDetector) Detect(ctx context.Context, img image.Image, photoID string) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	b := img.Bounds()
	n := d.rng.Intn(3) + 1
	out := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		desc := make([]float32, DescriptorSize)
		for j := range desc {
			desc[j] = d.rng.Float32()
		}
		out = append(out, Detection{
			Box: Box{
				X:      d.rng.Float64() * math.Max(float64(b.Dx()-100), 0),
				Y:      d.rng.Float64() * math.Max(float64(b.Dy()-100), 0),
				Width:  80 + d.rng.Float64()*40,
				Height: 80 + d.rng.Float64()*40,
			},
			Descriptor: desc,
			Confidence: 0.8 + d.rng.Float64()*0.2,
		})
	}
	return out, nil
}

// Candidate is a known person a face can be matched against.
type Candidate struct {
	PersonID   string
	Descriptor []float32
}

// Matcher assigns a face descriptor to one of the candidates.
type Matcher interface {
	Match(descriptor []float32, candidates []Candidate) (personID string, ok bool)
}

// EuclideanMatcher picks the nearest candidate strictly below Threshold.
type EuclideanMatcher struct {
	Threshold float64
}

func (m EuclideanMatcher) Match(descriptor []float32, candidates []Candidate) (string, bool) {
	best := ""
	bestDist := math.Inf(1)
	for _, c := range candidates {
		if len(c.Descriptor) != len(descriptor) {
			continue
		}
		d := Distance(descriptor, c.Descriptor)
		if d < m.Threshold && d < bestDist {
			best, bestDist = c.PersonID, d
		}
	}
	return best, best != ""
}

// Distance is the Euclidean distance between two descriptors of equal length.
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
