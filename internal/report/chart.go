package report

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/chris/shadow/internal/category"
	"github.com/wcharczuk/go-chart/v2"
)

// PieRenderer draws the weekly distribution as a PNG pie chart.
type PieRenderer struct {
	Size int
}

func (r PieRenderer) Render(counts map[category.Category]int) ([]byte, error) {
	values := pieValues(counts)
	if len(values) == 0 {
		return nil, nil
	}
	size := r.Size
	if size <= 0 {
		size = 600
	}
	pie := chart.PieChart{
		Title:  "Your Week in Review",
		Width:  size,
		Height: size,
		Values: values,
	}
	var buf bytes.Buffer
	if err := pie.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("rendering pie chart: %w", err)
	}
	return buf.Bytes(), nil
}

// pieValues labels each slice with its share, in canonical category order.
func pieValues(counts map[category.Category]int) []chart.Value {
	total := 0
	cats := make([]category.Category, 0, len(counts))
	for cat, n := range counts {
		if n <= 0 {
			continue
		}
		total += n
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return category.Index(cats[i]) < category.Index(cats[j]) })

	values := make([]chart.Value, 0, len(cats))
	for _, cat := range cats {
		n := counts[cat]
		values = append(values, chart.Value{
			Value: float64(n),
			Label: fmt.Sprintf("%s %.1f%%", cat, 100*float64(n)/float64(total)),
		})
	}
	return values
}
