package monitor

import (
	"fmt"
	"image/color"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ReductionPlot draws one filtered/original point ratio per scan.
func ReductionPlot(title string, ratios []float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Scan"
	p.Y.Label.Text = "Filtered / original points"
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(ratios))
	for i, v := range ratios {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)
	return p, nil
}

// handleReductionPlot renders the reduction ratio over the retained window
// as a PNG using gonum/plot.
func (ws *WebServer) handleReductionPlot(w http.ResponseWriter, r *http.Request) {
	hist := ws.scanStats.History(parseLimit(r, DefaultHistorySize, DefaultHistorySize))
	if len(hist) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no scans processed yet")
		return
	}
	ratios := make([]float64, len(hist))
	for i, m := range hist {
		ratios[i] = m.ReductionRatio()
	}

	p, err := ReductionPlot(fmt.Sprintf("%s reduction (%d scans)", ws.sensorID, len(hist)), ratios)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("build plot: %v", err))
		return
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("write plot: %v", err))
	}
}
