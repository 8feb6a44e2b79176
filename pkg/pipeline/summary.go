package pipeline

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// preference breaks RMSE ties toward simpler models
var preference = map[models.ModelType]int{
	models.ModelTypeRandomForest: 0,
	models.ModelTypeXGBoost:      1,
	models.ModelTypeSVR:          2,
	models.ModelTypeELM:          3,
	models.ModelTypeLSTM:         4,
}

// ResultKey names a result in a summary. Forest results carry their 1-based configuration index.
func ResultKey(model models.ModelType, config int) string {
	if model == models.ModelTypeRandomForest {
		return fmt.Sprintf("%s_%d", model, config)
	}
	return string(model)
}

type summaryEntry struct {
	key   string
	model models.ModelType
}

// Summarize computes the mean and spread of RMSE per model across runs and picks the best model
func Summarize(bundles []*models.ResultsBundle) *models.RunSummary {
	summary := &models.RunSummary{
		Runs:     len(bundles),
		RMSEMean: make(map[string]float64),
		RMSEStd:  make(map[string]float64),
		Failures: make(map[string]int),
	}

	samples := make(map[string][]float64)
	var keys []summaryEntry
	add := func(key string, model models.ModelType, rmse float64) {
		if _, ok := samples[key]; !ok {
			keys = append(keys, summaryEntry{key: key, model: model})
		}
		samples[key] = append(samples[key], rmse)
	}

	for _, b := range bundles {
		// failed forest configurations have no result; skip their indexes
		failed := make(map[int]bool)
		for _, f := range b.Failures {
			summary.Failures[string(f.Model)]++
			if f.Model == models.ModelTypeRandomForest {
				failed[f.Config] = true
			}
		}
		config := 1
		for _, r := range b.RandomForest {
			for failed[config] {
				config++
			}
			add(ResultKey(models.ModelTypeRandomForest, config), models.ModelTypeRandomForest, r.RMSE)
			config++
		}
		for _, model := range models.AllModelTypes[1:] {
			if r := b.Results()[model]; r != nil {
				add(ResultKey(model, 0), model, r.RMSE)
			}
		}
	}

	for _, e := range keys {
		summary.RMSEMean[e.key] = stat.Mean(samples[e.key], nil)
		summary.RMSEStd[e.key] = stat.PopStdDev(samples[e.key], nil)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		mi, mj := summary.RMSEMean[keys[i].key], summary.RMSEMean[keys[j].key]
		if mi != mj {
			return mi < mj
		}
		return preference[keys[i].model] < preference[keys[j].model]
	})
	if len(keys) > 0 {
		summary.BestModel = keys[0].key
	}
	if len(summary.Failures) == 0 {
		summary.Failures = nil
	}
	return summary
}
