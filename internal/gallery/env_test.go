package gallery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/lucasew/gallerycache/internal/admission"
	"github.com/lucasew/gallerycache/internal/budget"
	"github.com/lucasew/gallerycache/internal/eviction"
	"github.com/lucasew/gallerycache/internal/eviction/fifo"
	"github.com/lucasew/gallerycache/internal/eviction/policy"
	"github.com/lucasew/gallerycache/internal/eviction/policy/watermark"
	"github.com/lucasew/gallerycache/internal/faces"
	"github.com/lucasew/gallerycache/internal/kvstore"
	"github.com/stretchr/testify/require"
)

type envConfig struct {
	StoreLimit int64
	// Policy defaults to admission.NewPolicy(StoreLimit).
	Policy admission.Policy
	// AggressiveRatio defaults to 0.875.
	AggressiveRatio float64
	AggressiveKeep  int
	HighWater       bool
	Detector        faces.Detector
}

type testEnv struct {
	store   *kvstore.Capped
	records *Records
	manager *eviction.Manager
	tracker *budget.Tracker
	svc     *Service
	reports []eviction.Report
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	if cfg.StoreLimit == 0 {
		cfg.StoreLimit = 4 * admission.MiB
	}
	if cfg.AggressiveRatio == 0 {
		cfg.AggressiveRatio = 0.875
	}

	store, err := kvstore.NewCapped(ctx, kvstore.NewMemory(), cfg.StoreLimit)
	require.NoError(t, err)

	env := &testEnv{store: store, records: NewRecords(store)}

	ecfg := eviction.DefaultConfig()
	ecfg.OrphanPrefixes = BlobPrefixes
	if cfg.AggressiveKeep > 0 {
		ecfg.AggressiveKeep = cfg.AggressiveKeep
	}
	if cfg.HighWater {
		ecfg.HighWater = &watermark.Policy{Limit: cfg.StoreLimit, Ratio: 0.7}
	}
	env.manager = eviction.NewManager(store, env.records, fifo.New(),
		[]policy.Policy{&watermark.Policy{Limit: cfg.StoreLimit, Ratio: cfg.AggressiveRatio}}, ecfg)
	env.manager.OnReport = func(r eviction.Report) { env.reports = append(env.reports, r) }
	require.NoError(t, env.manager.LoadInitialState(ctx))

	env.tracker = budget.NewTracker(store, env.records, cfg.StoreLimit, 50*1024*admission.MiB)

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	env.svc = NewService(Deps{
		Records:  env.records,
		Manager:  env.manager,
		Tracker:  env.tracker,
		Policy:   cfg.Policy,
		Detector: cfg.Detector,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("id%03d", seq)
		},
	})
	return env
}

func (e *testEnv) keys(t *testing.T) []string {
	t.Helper()
	keys, err := e.store.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func (e *testEnv) keysMentioning(t *testing.T, id string) []string {
	t.Helper()
	var out []string
	for _, k := range e.keys(t) {
		raw, _, err := e.store.Get(context.Background(), k)
		require.NoError(t, err)
		if strings.Contains(k, id) || strings.Contains(raw, `"`+id+`"`) {
			out = append(out, k)
		}
	}
	return out
}

func (e *testEnv) virtual(t *testing.T) int64 {
	t.Helper()
	return e.tracker.Quota(context.Background(), budget.VirtualGallery).Used
}

// gradientPNG is a small, well-compressing image.
func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// noisePNG does not compress, so its size is close to w*h*3 bytes.
func noisePNG(t *testing.T, w, h int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// padded appends zeros after the image data, which decoders never read.
func padded(data []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, data)
	return out
}
