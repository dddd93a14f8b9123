package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics serves the Prometheus exposition format by default; ?format=json
// returns the raw metric families for callers without a Prometheus parser.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") != "json" {
		promhttp.Handler().ServeHTTP(w, r)
		return
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "gathering metrics failed")
		return
	}

	out := make(map[string]any, len(families))
	for _, mf := range families {
		series := make([]map[string]any, 0, len(mf.GetMetric()))
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			point := map[string]any{"labels": labels}
			switch {
			case m.GetCounter() != nil:
				point["value"] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				point["value"] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				point["count"] = m.GetHistogram().GetSampleCount()
				point["sum"] = m.GetHistogram().GetSampleSum()
			case m.GetSummary() != nil:
				point["count"] = m.GetSummary().GetSampleCount()
				point["sum"] = m.GetSummary().GetSampleSum()
			}
			series = append(series, point)
		}
		out[mf.GetName()] = series
	}
	respondJSON(w, http.StatusOK, out)
}
