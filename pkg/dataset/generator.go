package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

// DefaultOutputFile is where the generator CLI writes when no path is given
const DefaultOutputFile = "battery_dataset_generated.csv"

type valueRange [2]float64

// Bucket describes one simulated battery condition
type Bucket struct {
	Fraction      float64
	Voltage       valueRange
	Current       valueRange
	Temperature   valueRange
	Cycles        valueRange
	ChargeTime    valueRange
	DischargeTime valueRange
	Health        valueRange
	Note          string
}

// DefaultBuckets are the simulated conditions; fractions sum to one
var DefaultBuckets = []Bucket{
	{0.15, valueRange{3.7, 3.9}, valueRange{1.0, 1.3}, valueRange{24, 26}, valueRange{1, 30}, valueRange{40, 45}, valueRange{100, 120}, valueRange{94, 98}, "New battery"},
	{0.2, valueRange{3.6, 3.8}, valueRange{0.9, 1.2}, valueRange{25, 27}, valueRange{30, 120}, valueRange{45, 50}, valueRange{120, 150}, valueRange{80, 90}, "Moderate usage"},
	{0.2, valueRange{3.4, 3.6}, valueRange{0.8, 1.1}, valueRange{27, 29}, valueRange{120, 240}, valueRange{50, 60}, valueRange{150, 180}, valueRange{70, 80}, "Heavy usage"},
	{0.15, valueRange{3.3, 3.6}, valueRange{0.7, 1.1}, valueRange{30, 38}, valueRange{50, 150}, valueRange{65, 80}, valueRange{180, 220}, valueRange{55, 70}, "Poor maintenance"},
	{0.15, valueRange{3.5, 3.8}, valueRange{0.9, 1.2}, valueRange{26, 30}, valueRange{100, 250}, valueRange{55, 65}, valueRange{160, 190}, valueRange{75, 85}, "Optimal maintenance"},
	{0.075, valueRange{3.6, 3.8}, valueRange{0.9, 1.2}, valueRange{22, 34}, valueRange{50, 150}, valueRange{45, 55}, valueRange{140, 170}, valueRange{80, 90}, "Temperature variation"},
	{0.075, valueRange{3.1, 3.9}, valueRange{0.5, 1.3}, valueRange{25, 27}, valueRange{50, 150}, valueRange{45, 55}, valueRange{140, 170}, valueRange{70, 90}, "Voltage variation"},
}

// Row is one generated battery observation
type Row struct {
	Voltage       float64
	Current       float64
	Temperature   float64
	Cycles        int
	AgeDays       int
	ChargeTime    float64
	DischargeTime float64
	Health        float64
	Note          string
}

// Generator produces synthetic battery datasets
type Generator struct {
	rng     *rand.Rand
	buckets []Bucket
}

// NewGenerator creates a generator over the default buckets
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:     rand.New(rand.NewSource(seed)),
		buckets: DefaultBuckets,
	}
}

// Generate returns exactly count shuffled rows
func (g *Generator) Generate(count int) ([]Row, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be a positive number")
	}

	rows := make([]Row, 0, count)
	for i, b := range g.buckets {
		n := int(math.Floor(float64(count) * b.Fraction))
		if i == len(g.buckets)-1 {
			n = count - len(rows)
		}
		for j := 0; j < n; j++ {
			rows = append(rows, g.row(b))
		}
	}
	g.rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	return rows, nil
}

func (g *Generator) uniform(r valueRange) float64 {
	return r[0] + g.rng.Float64()*(r[1]-r[0])
}

func (g *Generator) row(b Bucket) Row {
	cycles := int(math.Floor(g.uniform(b.Cycles)))
	return Row{
		Voltage:       round(g.uniform(b.Voltage), 2),
		Current:       round(g.uniform(b.Current), 2),
		Temperature:   round(g.uniform(b.Temperature), 2),
		Cycles:        cycles,
		AgeDays:       cycles * 3,
		ChargeTime:    round(g.uniform(b.ChargeTime), 1),
		DischargeTime: round(g.uniform(b.DischargeTime), 1),
		Health:        round(g.uniform(b.Health), 1),
		Note:          b.Note,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// WriteCSV writes rows with the dataset header, adding a notes column when comments is set
func WriteCSV(w io.Writer, rows []Row, comments bool) error {
	cw := csv.NewWriter(w)
	header := append([]string(nil), models.RequiredColumns...)
	if comments {
		header = append(header, models.ColumnNotes)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		record := []string{
			f(r.Voltage), f(r.Current), f(r.Temperature),
			strconv.Itoa(r.Cycles), strconv.Itoa(r.AgeDays),
			f(r.ChargeTime), f(r.DischargeTime), f(r.Health),
		}
		if comments {
			record = append(record, r.Note)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// GenerateCSV returns count generated rows as CSV text
func (g *Generator) GenerateCSV(count int, comments bool) (string, error) {
	rows, err := g.Generate(count)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, comments); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WriteFile generates count rows into path, creating parent directories
func (g *Generator) WriteFile(path string, count int, comments bool) error {
	if path == "" {
		return fmt.Errorf("output file path must be a non-empty string")
	}
	text, err := g.GenerateCSV(count, comments)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write dataset to file: %w", err)
	}
	return nil
}
