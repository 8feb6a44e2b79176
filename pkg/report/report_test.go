package report

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

func TestResults(t *testing.T) {
	bundle := &models.ResultsBundle{
		RandomForest: []models.ModelResult{
			{MetricSet: models.MetricSet{RMSE: 1.5, R2Score: 0.9}, Trees: 25, MaxDepth: 10},
		},
		SVR:      &models.ModelResult{MetricSet: models.MetricSet{RMSE: 2.25, R2Score: models.Score(math.Inf(-1))}},
		Failures: []models.AdapterFailure{{Model: models.ModelTypeLSTM, Stage: "train"}},
	}

	out := Results(bundle)
	assert.Contains(t, out, "random_forest (25 trees, depth 10)")
	assert.Contains(t, out, "1.5000")
	assert.Contains(t, out, "2.2500")
	assert.Contains(t, out, "n/a")
	assert.Contains(t, out, "failed")
	assert.NotContains(t, out, "elm")
}

func TestSummaryListsBestFirst(t *testing.T) {
	summary := &models.RunSummary{
		Runs:      3,
		RMSEMean:  map[string]float64{"elm": 3, "random_forest_1": 1.25, "xgboost": 2},
		RMSEStd:   map[string]float64{"elm": 0.5, "random_forest_1": 0.1, "xgboost": 0.2},
		Failures:  map[string]int{"svr": 2},
		BestModel: "random_forest_1",
	}

	out := Summary(summary)
	assert.True(t, strings.HasPrefix(out, "3 run(s), best model: random_forest_1"))
	best := strings.Index(out, "1.2500")
	second := strings.Index(out, "2.0000")
	third := strings.Index(out, "3.0000")
	assert.True(t, best < second && second < third, out)
	assert.Contains(t, out, "failures: svr=2")
}
