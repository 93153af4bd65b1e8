// Package heatmap renders mat readings as PNG heatmaps with gonum/plot.
// Row 0 of the mat is drawn at the top and the colour scale is fixed to the
// 12-bit ADC range so frames are comparable.
package heatmap

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/posemat/internal/posemat/l2frames"
	"github.com/banshee-data/posemat/internal/posemat/session"
)

// grid adapts a Reading to plotter.GridXYZ. Plot rows grow upwards, so plot
// row r shows mat row Rows-1-r.
type grid struct {
	r *l2frames.Reading
}

func (g grid) Dims() (c, r int)   { return l2frames.Cols, l2frames.Rows }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }
func (g grid) Z(c, r int) float64 { return float64(g.r.At(l2frames.Rows-1-r, c)) }

// Render draws one reading titled with its classification and writes a PNG
// of the given width to w. Height keeps cells square.
func Render(w io.Writer, r *l2frames.Reading, title string, width vg.Length) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"

	h := plotter.NewHeatMap(grid{r: r}, palette.Heat(64, 1))
	h.Min = 0
	h.Max = l2frames.MaxValue
	h.Underflow = color.Black
	h.Overflow = color.White
	p.Add(h)

	height := width * vg.Length(l2frames.Rows) / vg.Length(l2frames.Cols)
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("heatmap: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// Title formats the plot title for a result.
func Title(ev session.Event) string {
	return fmt.Sprintf("Pose: %s (%.2f%%)", ev.Result.Label, ev.Result.Percent())
}

// Sink rewrites a PNG file every Nth event. The file is replaced
// atomically so readers never see a partial image.
type Sink struct {
	path  string
	every uint64
	width vg.Length

	mu       sync.Mutex
	count    uint64
	rendered uint64
}

// New returns a sink writing to path on every nth event. size is a vg length
// string such as "10cm"; empty selects 10cm.
func New(path string, every int, size string) (*Sink, error) {
	if every <= 0 {
		every = 1
	}
	width := 10 * vg.Centimeter
	if size != "" {
		l, err := vg.ParseLength(size)
		if err != nil {
			return nil, fmt.Errorf("heatmap size %q: %w", size, err)
		}
		width = l
	}
	if width <= 0 {
		return nil, fmt.Errorf("heatmap size %q must be positive", size)
	}
	return &Sink{path: path, every: uint64(every), width: width}, nil
}

// Name implements session.Named.
func (s *Sink) Name() string { return "heatmap" }

// Rendered returns how many images were written.
func (s *Sink) Rendered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

// Consume implements session.Sink.
func (s *Sink) Consume(ev session.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if (s.count-1)%s.every != 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := Render(&buf, &ev.Reading, Title(ev), s.width); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".heatmap-*.png")
	if err != nil {
		return fmt.Errorf("heatmap: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("heatmap: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("heatmap: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("heatmap: %w", err)
	}
	s.rendered++
	return nil
}
