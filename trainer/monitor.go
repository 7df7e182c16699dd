package trainer

import (
	"bufio"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// WeightsReporter is implemented by networks that expose their parameters for
// histograms, keyed by layer name.
type WeightsReporter interface {
	Weights() map[string][]float32
}

// GradientReporter is implemented by networks that track the gradient norm of
// each layer during the last update.
type GradientReporter interface {
	GradientNorms() map[string]float64
}

// Embedding is one embedding matrix and, optionally, the vocabulary that labels
// its rows.
type Embedding struct {
	Vectors    [][]float32
	VocabID    string
	Vocabulary []string
}

// EmbeddingsReporter is implemented by networks with embedding layers.
type EmbeddingsReporter interface {
	Embeddings() map[string]Embedding
}

// Monitor writes training curves and parameter dumps into LogDir.
type Monitor struct {
	params TensorboardParams

	loss    plotter.XYs
	metrics map[string]plotter.XYs
	grads   map[string]plotter.XYs
}

// NewMonitor creates the log directory.
func NewMonitor(tp TensorboardParams) (*Monitor, error) {
	if tp.LogDir == "" {
		tp.LogDir = "tensorboard_logs"
	}
	if err := ensureDir(tp.LogDir); err != nil {
		return nil, errors.Wrapf(err, "create log dir %s", tp.LogDir)
	}
	return &Monitor{
		params:  tp,
		metrics: make(map[string]plotter.XYs),
		grads:   make(map[string]plotter.XYs),
	}, nil
}

// WriteGraph stores the network summary as graph.txt.
func (m *Monitor) WriteGraph(summary string) error {
	path := filepath.Join(m.params.LogDir, "graph.txt")
	if err := os.WriteFile(path, []byte(summary), 0644); err != nil {
		return errors.Wrap(err, "write graph")
	}
	return nil
}

// RecordLoss adds the mean training loss of an epoch.
func (m *Monitor) RecordLoss(epoch int, loss float64) {
	m.loss = append(m.loss, plotter.XY{X: float64(epoch), Y: loss})
}

// RecordMetrics adds the metrics of an evaluation at step.
func (m *Monitor) RecordMetrics(step int, metrics map[string]float64) {
	for k, v := range metrics {
		m.metrics[k] = append(m.metrics[k], plotter.XY{X: float64(step), Y: v})
	}
}

// EndEpoch writes the curves and, on their period, the histograms and
// embeddings of net.
func (m *Monitor) EndEpoch(epoch int, net Network) error {
	if err := m.plotCurves("loss.png", "Training loss", "epoch", map[string]plotter.XYs{"loss": m.loss}); err != nil {
		return err
	}
	if len(m.metrics) > 0 {
		if err := m.plotCurves("metrics.png", "Evaluation metrics", "step", m.metrics); err != nil {
			return err
		}
	}

	if m.params.WriteGrads {
		if g, ok := net.(GradientReporter); ok {
			for layer, norm := range g.GradientNorms() {
				m.grads[layer] = append(m.grads[layer], plotter.XY{X: float64(epoch), Y: norm})
			}
			if err := m.plotCurves("grads.png", "Gradient norms", "epoch", m.grads); err != nil {
				return err
			}
		}
	}

	if m.params.HistogramFreq > 0 && epoch%m.params.HistogramFreq == 0 {
		if w, ok := net.(WeightsReporter); ok {
			if err := m.writeHistograms(epoch, w.Weights()); err != nil {
				return err
			}
		}
	}

	if m.params.EmbeddingsFreq > 0 && epoch%m.params.EmbeddingsFreq == 0 {
		if e, ok := net.(EmbeddingsReporter); ok {
			if err := m.writeEmbeddings(epoch, e.Embeddings()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Monitor) plotCurves(name, title, xLabel string, series map[string]plotter.XYs) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var all plotter.XYs
	for i, k := range keys {
		xys := series[k]
		if len(xys) == 0 {
			continue
		}
		line, points, err := plotter.NewLinePoints(xys)
		if err != nil {
			return errors.Wrapf(err, "plot %s", k)
		}
		col := palette[i%len(palette)]
		line.Color = col
		line.Width = vg.Points(1.2)
		points.GlyphStyle.Color = col
		points.GlyphStyle.Radius = vg.Points(1.8)
		p.Add(line, points)
		p.Legend.Add(k, line)
		all = append(all, xys...)
	}
	p.X.Min, p.X.Max, p.Y.Min, p.Y.Max = autoRange(all)

	outPath := filepath.Join(m.params.LogDir, name)
	if err := p.Save(8*vg.Inch, 6*vg.Inch, outPath); err != nil {
		return errors.Wrapf(err, "save %s", outPath)
	}
	return nil
}

// writeHistograms saves one histogram of all weights; with WriteImages one more
// image per layer.
func (m *Monitor) writeHistograms(epoch int, weights map[string][]float32) error {
	layers := make([]string, 0, len(weights))
	var all plotter.Values
	for layer, w := range weights {
		layers = append(layers, layer)
		for _, v := range w {
			all = append(all, float64(v))
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.Strings(layers)

	if err := m.saveHistogram(fmt.Sprintf("weights_%d.png", epoch),
		fmt.Sprintf("Weights at epoch %d", epoch), all); err != nil {
		return err
	}
	if !m.params.WriteImages {
		return nil
	}
	for _, layer := range layers {
		vals := make(plotter.Values, len(weights[layer]))
		for i, v := range weights[layer] {
			vals[i] = float64(v)
		}
		if len(vals) == 0 {
			continue
		}
		name := fmt.Sprintf("weights_%d_%s.png", epoch, sanitize(layer))
		if err := m.saveHistogram(name, layer, vals); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) saveHistogram(name, title string, vals plotter.Values) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "value"
	p.Y.Label.Text = "count"
	h, err := plotter.NewHist(vals, 40)
	if err != nil {
		return errors.Wrapf(err, "histogram %s", name)
	}
	h.FillColor = color.RGBA{R: 20, G: 80, B: 200, A: 200}
	p.Add(h)
	outPath := filepath.Join(m.params.LogDir, name)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, outPath); err != nil {
		return errors.Wrapf(err, "save %s", outPath)
	}
	return nil
}

// writeEmbeddings dumps each selected embedding matrix as a TSV of vectors plus
// a TSV of row labels.
func (m *Monitor) writeEmbeddings(epoch int, embs map[string]Embedding) error {
	var metadata []string
	if m.params.EmbeddingsMetadata != "" {
		var err error
		if metadata, err = readLines(m.params.EmbeddingsMetadata); err != nil {
			return err
		}
	}
	for layer, e := range embs {
		if len(m.params.EmbeddingsLayerNames) > 0 && !slices.Contains(m.params.EmbeddingsLayerNames, layer) {
			continue
		}
		base := fmt.Sprintf("embeddings_%d_%s", epoch, sanitize(layer))
		if err := writeTSV(filepath.Join(m.params.LogDir, base+".tsv"), e.Vectors); err != nil {
			return err
		}

		labels := metadata
		if labels == nil && m.params.LabelWordEmbeddingsWithVocab &&
			(len(m.params.WordEmbeddingsLabels) == 0 || slices.Contains(m.params.WordEmbeddingsLabels, e.VocabID)) {
			labels = e.Vocabulary
		}
		if labels == nil {
			continue
		}
		if len(labels) != len(e.Vectors) {
			klog.Warningf("Embedding %s has %d rows but %d labels", layer, len(e.Vectors), len(labels))
		}
		path := filepath.Join(m.params.LogDir, base+"_metadata.tsv")
		if err := os.WriteFile(path, []byte(strings.Join(labels, "\n")+"\n"), 0644); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}
	return nil
}

func writeTSV(path string, rows [][]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				w.WriteByte('\t')
			}
			fmt.Fprintf(w, "%g", v)
		}
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read embeddings metadata %s", path)
	}
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n"), nil
}

var palette = []color.Color{
	color.RGBA{R: 20, G: 80, B: 200, A: 255},
	color.RGBA{R: 200, G: 30, B: 30, A: 255},
	color.RGBA{R: 40, G: 120, B: 40, A: 255},
	color.RGBA{R: 120, G: 120, B: 120, A: 255},
	color.RGBA{R: 200, G: 120, B: 0, A: 255},
}

// autoRange computes padded min/max for X and Y for a set of points.
func autoRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin, xmax = math.Inf(1), math.Inf(-1)
	ymin, ymax = math.Inf(1), math.Inf(-1)
	for _, p := range xs {
		xmin, xmax = math.Min(xmin, p.X), math.Max(xmax, p.X)
		ymin, ymax = math.Min(ymin, p.Y), math.Max(ymax, p.Y)
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0755)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, name)
}
