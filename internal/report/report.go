// Package report renders scan buffers to self-contained HTML charts using
// go-echarts: a heatmap per raster channel and a line chart of the sweep
// mean trace. These are debugging views served without auth alongside the
// JSON API.
package report

import (
	"bytes"
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scanline/internal/scan"
	"github.com/banshee-data/scanline/internal/units"
)

// viridis approximation used for heatmap colour ramps.
var heatColors = []string{
	"#440154", "#482777", "#3e4989", "#31688e", "#26828e",
	"#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725",
}

// RenderHeatmap renders one (channel, direction) matrix of a raster
// snapshot as an HTML heatmap. The colour range is clipped to the
// [loQ, hiQ] quantiles so a few hot pixels do not wash out the image.
func RenderHeatmap(snap *scan.Snapshot, channel string, dir scan.Direction, loQ, hiQ float64) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	suffix := "_fw"
	if dir == scan.Backward {
		suffix = "_bw"
	}
	matrix, ok := snap.Matrices[channel+suffix]
	if !ok {
		return nil, fmt.Errorf("no matrix for channel %q direction %s", channel, dir)
	}

	var meta scan.ChannelMeta
	for _, ch := range snap.Channels {
		if ch.Name == channel {
			meta = ch
			break
		}
	}
	scale := meta.ScaleFactor
	if scale == 0 {
		scale = 1
	}
	label := meta.NiceName
	if label == "" {
		label = channel
	}

	var flat []float64
	data := make([]opts.HeatMapData, 0, snap.Lines*snap.Points)
	for y, row := range matrix {
		for x, v := range row {
			flat = append(flat, v*scale)
			data = append(data, opts.HeatMapData{Value: [3]interface{}{x, y, v * scale}})
		}
	}
	lo, hi := scan.DisplayRange(flat, loQ, hiQ)
	if hi == lo {
		hi = lo + 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan Heatmap", Theme: "dark", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s (%s)", label, dir),
			Subtitle: fmt.Sprintf("session=%s lines=%d points=%d range=[%s, %s]",
				snap.Session.ID, snap.Lines, snap.Points,
				units.Format(lo, meta.Unit), units.Format(hi, meta.Unit)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "point"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "line"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: heatColors},
		}),
	)
	hm.AddSeries(channel, data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering heatmap: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderTrace renders the de-interleaved mean traces of a sweep snapshot
// as an HTML line chart, one series per curve, with arm boundaries noted
// in the subtitle.
func RenderTrace(snap *scan.Snapshot) ([]byte, error) {
	if snap == nil || len(snap.MeanTrace) == 0 {
		return nil, fmt.Errorf("snapshot has no sweep trace")
	}

	curveNames := []string{"signal", "background", "reference"}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sweep Trace", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Sweep mean trace",
			Subtitle: fmt.Sprintf("session=%s sweeps=%d arms=%d", snap.Session.ID, snap.Sweeps, len(snap.Arms)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frequency (Hz)"}),
	)

	labels := make([]string, 0, len(snap.Freqs))
	for _, f := range snap.Freqs {
		labels = append(labels, units.Format(f, "Hz"))
	}
	line.SetXAxis(labels)

	for c, trace := range snap.CurveTraces {
		name := fmt.Sprintf("curve %d", c)
		if c < len(curveNames) {
			name = curveNames[c]
		}
		points := make([]opts.LineData, 0, len(trace))
		for _, v := range trace {
			points = append(points, opts.LineData{Value: v})
		}
		line.AddSeries(name, points)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering trace: %w", err)
	}
	return buf.Bytes(), nil
}
