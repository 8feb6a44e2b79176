package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	bestStyle   = cellStyle.Foreground(lipgloss.Color("10"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}

func formatScore(s models.Score) string {
	v := float64(s)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

func resultRow(name string, r models.ModelResult) []string {
	return []string{
		name,
		fmt.Sprintf("%.4f", r.RMSE),
		fmt.Sprintf("%.4f", r.MAE),
		fmt.Sprintf("%.4f", r.MaxError),
		formatScore(r.R2Score),
		fmt.Sprintf("%.1f", r.ComputationTime),
	}
}

// Results renders one bundle as a table with one row per evaluated model
func Results(bundle *models.ResultsBundle) string {
	t := newTable("model", "rmse", "mae", "max error", "r2", "time (ms)")

	for i, r := range bundle.RandomForest {
		name := fmt.Sprintf("random_forest (%d trees, depth %d)", r.Trees, r.MaxDepth)
		if r.Trees == 0 {
			name = fmt.Sprintf("random_forest #%d", i+1)
		}
		t.Row(resultRow(name, r)...)
	}
	results := bundle.Results()
	for _, model := range models.AllModelTypes[1:] {
		if r, ok := results[model]; ok {
			t.Row(resultRow(string(model), *r)...)
		}
	}
	for _, f := range bundle.Failures {
		t.Row(string(f.Model), "failed", "", "", "", "")
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		return cellStyle
	})
	return t.String()
}

// Summary renders the RMSE mean and spread across runs, best model first
func Summary(summary *models.RunSummary) string {
	keys := make([]string, 0, len(summary.RMSEMean))
	for key := range summary.RMSEMean {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == summary.BestModel || keys[j] == summary.BestModel {
			return keys[i] == summary.BestModel
		}
		mi, mj := summary.RMSEMean[keys[i]], summary.RMSEMean[keys[j]]
		if mi != mj {
			return mi < mj
		}
		return keys[i] < keys[j]
	})

	t := newTable("model", "rmse mean", "rmse std")
	for _, key := range keys {
		t.Row(key,
			fmt.Sprintf("%.4f", summary.RMSEMean[key]),
			fmt.Sprintf("%.4f", summary.RMSEStd[key]))
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case row == 0 && keys[0] == summary.BestModel:
			return bestStyle
		}
		return cellStyle
	})
	out := fmt.Sprintf("%d run(s), best model: %s\n%s", summary.Runs, summary.BestModel, t.String())
	if len(summary.Failures) > 0 {
		families := make([]string, 0, len(summary.Failures))
		for family := range summary.Failures {
			families = append(families, family)
		}
		sort.Strings(families)
		out += "\nfailures:"
		for _, family := range families {
			out += fmt.Sprintf(" %s=%d", family, summary.Failures[family])
		}
	}
	return out
}
