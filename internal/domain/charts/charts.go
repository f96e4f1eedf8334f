// Package charts reshapes API payloads into the labels/datasets shape the
// SPA's chart library consumes. Every function orders its output
// deterministically so the same payload always renders the same chart.
package charts

import (
	"sort"
	"strconv"

	"evalportal/internal/upstream"
)

type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

type Series struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Named is one bar/line series keyed by label.
type Named struct {
	Label  string
	Values map[string]float64
}

// XY is one point of a line chart.
type XY struct {
	X string
	Y float64
}

// Pie builds a single-dataset series sorted by label.
func Pie(counts map[string]float64) Series {
	labels := sortedKeys(counts)
	data := make([]float64, len(labels))
	for i, l := range labels {
		data[i] = counts[l]
	}
	return Series{Labels: labels, Datasets: []Dataset{{Label: "total", Data: data}}}
}

// Bar aligns every named series on labels; a missing value is 0.
func Bar(labels []string, series ...Named) Series {
	out := Series{Labels: append([]string(nil), labels...), Datasets: make([]Dataset, 0, len(series))}
	for _, s := range series {
		data := make([]float64, len(labels))
		for i, l := range labels {
			data[i] = s.Values[l]
		}
		out.Datasets = append(out.Datasets, Dataset{Label: s.Label, Data: data})
	}
	return out
}

// Line keeps the order points were given in.
func Line(label string, points []XY) Series {
	out := Series{Labels: make([]string, 0, len(points))}
	data := make([]float64, 0, len(points))
	for _, p := range points {
		out.Labels = append(out.Labels, p.X)
		data = append(data, p.Y)
	}
	out.Datasets = []Dataset{{Label: label, Data: data}}
	return out
}

// GroupByType counts competencies per type. Competencies without a type are
// grouped under "Sin tipo".
func GroupByType(competencies []upstream.Competency) map[string][]upstream.Competency {
	groups := map[string][]upstream.Competency{}
	for _, c := range competencies {
		t := c.Type
		if t == "" {
			t = "Sin tipo"
		}
		groups[t] = append(groups[t], c)
	}
	return groups
}

// CompetencyTypes is the pie chart of GroupByType.
func CompetencyTypes(competencies []upstream.Competency) Series {
	counts := map[string]float64{}
	for t, cs := range GroupByType(competencies) {
		counts[t] = float64(len(cs))
	}
	return Pie(counts)
}

// Distribution is a bar chart of how often each rating value occurs.
func Distribution(values []float64) Series {
	counts := map[float64]float64{}
	for _, v := range values {
		counts[v]++
	}
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	out := Series{Labels: make([]string, len(keys))}
	data := make([]float64, len(keys))
	for i, k := range keys {
		out.Labels[i] = strconv.FormatFloat(k, 'f', -1, 64)
		data[i] = counts[k]
	}
	out.Datasets = []Dataset{{Label: "frecuencia", Data: data}}
	return out
}

// CompetencyAverages is a bar chart of the mean result per competency name.
func CompetencyAverages(results []upstream.Result) Series {
	sums := map[string]float64{}
	counts := map[string]float64{}
	for _, r := range results {
		sums[r.Competency] += r.Value
		counts[r.Competency]++
	}
	avg := map[string]float64{}
	for name, total := range sums {
		avg[name] = total / counts[name]
	}
	return Bar(sortedKeys(avg), Named{Label: "promedio", Values: avg})
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
