package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleMetricsChart renders point counts per scan (raw, decimated,
// filtered) over the retained window using go-echarts. Debug only.
// Query params:
//   - limit (optional; default 300) number of most recent scans
func (ws *WebServer) handleMetricsChart(w http.ResponseWriter, r *http.Request) {
	hist := ws.scanStats.History(parseLimit(r, 300, DefaultHistorySize))
	if len(hist) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no scans processed yet")
		return
	}

	xs := make([]string, len(hist))
	original := make([]opts.LineData, len(hist))
	decimated := make([]opts.LineData, len(hist))
	filtered := make([]opts.LineData, len(hist))
	for i, m := range hist {
		xs[i] = strconv.FormatUint(uint64(m.Header.Seq), 10)
		original[i] = opts.LineData{Value: m.OriginalPointCount}
		decimated[i] = opts.LineData{Value: m.DecimatedPointCount}
		filtered[i] = opts.LineData{Value: m.FilteredPointCount}
	}

	var cfgLabel string
	if ws.controller != nil {
		cfgLabel = ws.controller.Current().String()
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "ring_filter points", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Points per scan", Subtitle: fmt.Sprintf("sensor=%s scans=%d %s", ws.sensorID, len(hist), cfgLabel)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "seq", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "points"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	noSymbol := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
	line.SetXAxis(xs).
		AddSeries("original", original, noSymbol).
		AddSeries("decimated", decimated, noSymbol).
		AddSeries("filtered", filtered, noSymbol)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
