package heatmap

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/posemat/session"
)

func ramp() l2frames.Reading {
	var r l2frames.Reading
	for i := range r {
		r[i] = i * 85
	}
	return r
}

func TestGrid_RowZeroOnTop(t *testing.T) {
	r := ramp()
	g := grid{r: &r}

	c, rows := g.Dims()
	assert.Equal(t, l2frames.Cols, c)
	assert.Equal(t, l2frames.Rows, rows)

	// Top plot row is mat row 0.
	assert.Equal(t, float64(r.At(0, 0)), g.Z(0, l2frames.Rows-1))
	assert.Equal(t, float64(r.At(l2frames.Rows-1, 5)), g.Z(5, 0))
}

func TestRender_PNG(t *testing.T) {
	r := ramp()
	r[0] = 9000 // overflow
	r[1] = -5   // underflow

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &r, "Pose: empty (50.00%)", 6*vg.Centimeter))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	b := img.Bounds()
	assert.Greater(t, b.Dy(), b.Dx(), "8x6 grid should render taller than wide")
}

func TestSink_RendersEveryN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatmap.png")
	s, err := New(path, 2, "4cm")
	require.NoError(t, err)

	ev := session.Event{Reading: ramp(), Result: l3classify.Result{Label: "hand_pressed", Confidence: 0.8}}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Consume(ev))
	}

	assert.Equal(t, uint64(3), s.Rendered())
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
	assert.Equal(t, "Pose: hand_pressed (80.00%)", Title(ev))
}

func TestNew_BadSize(t *testing.T) {
	_, err := New("x.png", 1, "ten centimetres")
	assert.Error(t, err)
	_, err = New("x.png", 1, "-2cm")
	assert.Error(t, err)
}
