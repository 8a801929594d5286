package face_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/facevote/internal/face"
	"github.com/andresmejia3/facevote/internal/face/facetest"
	"github.com/andresmejia3/facevote/internal/types"
)

var red = color.RGBA{R: 255, A: 255}

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestFacesPairsBoxesAndEmbeddings(t *testing.T) {
	fake := facetest.New().Set(red, types.Embedding{1, 0}, types.Embedding{0, 1})

	got, err := face.Faces(context.Background(), fake, solid(red), types.ModelFast)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.Embedding{1, 0}, got[0].Vec)
	assert.Equal(t, types.Embedding{0, 1}, got[1].Vec)
	assert.Less(t, got[0].Box.Left, got[1].Box.Left)
}

func TestFacesNoFaceSkipsEmbedding(t *testing.T) {
	fake := facetest.New()

	got, err := face.Faces(context.Background(), fake, solid(red), types.ModelFast)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), fake.Embeds.Load())
}

func TestFacesDetectorError(t *testing.T) {
	fake := facetest.New()
	fake.DetectErr = errors.New("boom")

	_, err := face.Faces(context.Background(), fake, solid(red), types.ModelFast)
	assert.EqualError(t, err, "boom")
}

func TestPoolConcurrentUse(t *testing.T) {
	a := facetest.New().Set(red, types.Embedding{1})
	b := facetest.New().Set(red, types.Embedding{1})
	pool := face.NewPool(a, b)
	require.Equal(t, 2, pool.Size())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := face.Faces(context.Background(), pool, solid(red), types.ModelFast)
			assert.NoError(t, err)
			assert.Len(t, res, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), a.Detects.Load()+b.Detects.Load())
	require.NoError(t, pool.Close())
	assert.True(t, a.Closed.Load())
	assert.True(t, b.Closed.Load())
}

func TestPoolHonorsContext(t *testing.T) {
	pool := face.NewPool()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.DetectFaces(ctx, solid(red), types.ModelFast)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := face.Open(context.Background(), face.Options{Backend: "tensorflow"}, 1)
	assert.ErrorContains(t, err, "unknown detector backend")
}

func TestIoU(t *testing.T) {
	a := image.Rect(0, 0, 10, 10)
	assert.Equal(t, 1.0, face.IoU(a, a))
	assert.Equal(t, 0.0, face.IoU(a, image.Rect(20, 20, 30, 30)))
	assert.InDelta(t, 25.0/175.0, face.IoU(a, image.Rect(5, 5, 15, 15)), 1e-9)
}

// stickyEngine only embeds boxes for the image it detected last, like the dlib backend.
type stickyEngine struct {
	name    string
	lastImg *image.RGBA
	embeds  int
}

func (s *stickyEngine) DetectFaces(ctx context.Context, img *image.RGBA, model types.Model) ([]types.BoundingBox, error) {
	s.lastImg = img
	return []types.BoundingBox{{Top: 0, Right: 2, Bottom: 2, Left: 0}}, nil
}

func (s *stickyEngine) EmbedFaces(ctx context.Context, img *image.RGBA, boxes []types.BoundingBox) ([]types.Embedding, error) {
	if s.lastImg != img {
		return nil, errors.New(s.name + ": embed without detect")
	}
	s.embeds++
	return []types.Embedding{{1}}, nil
}

func (s *stickyEngine) Close() error { return nil }

func TestFacesHoldsOnePoolEngine(t *testing.T) {
	a := &stickyEngine{name: "a"}
	b := &stickyEngine{name: "b"}
	pool := face.NewPool(a, b)

	for i := 0; i < 4; i++ {
		res, err := face.Faces(context.Background(), pool, solid(red), types.ModelAccurate)
		require.NoError(t, err)
		require.Len(t, res, 1)
	}
	assert.Equal(t, 4, a.embeds+b.embeds)
}
