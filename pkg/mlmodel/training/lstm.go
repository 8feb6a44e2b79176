package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/mimir-aip/battery-soh/pkg/models"
)

const lstmClipNorm = 5.0

// LSTMTrainer reshapes each flat row into a [timesteps, features] sequence and fits
// a single LSTM layer followed by a one-unit dense output.
type LSTMTrainer struct {
	config     models.LSTMConfig
	configured bool
	logger     logrus.FieldLogger

	net     *lstmNet
	scaler  *standardScaler
	target  targetScaler
	width   int
	history []models.LearningCurvePoint
}

// NewLSTMTrainer creates a new LSTM trainer
func NewLSTMTrainer() *LSTMTrainer {
	return &LSTMTrainer{}
}

// SetLogger enables per-epoch debug logging
func (t *LSTMTrainer) SetLogger(logger logrus.FieldLogger) {
	t.logger = logger
}

// Configure applies LSTM hyperparameters
func (t *LSTMTrainer) Configure(params models.Hyperparameters) error {
	if params.LSTM == nil {
		return fmt.Errorf("%w: lstm", ErrNotConfigured)
	}
	cfg := params.LSTM.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid lstm config: %w", err)
	}
	t.Dispose()
	t.config = cfg
	t.configured = true
	return nil
}

// Config returns the effective hyperparameters
func (t *LSTMTrainer) Config() models.LSTMConfig {
	return t.config
}

// LossHistory returns the training and validation loss of every epoch of the last Train
func (t *LSTMTrainer) LossHistory() []models.LearningCurvePoint {
	return append([]models.LearningCurvePoint(nil), t.history...)
}

// Train fits the network with Adam on mean squared error.
// The trailing ValidationSplit fraction of rows is held out for validation loss.
func (t *LSTMTrainer) Train(ctx context.Context, features [][]float64, targets []float64) error {
	if !t.configured {
		return &TrainingError{Model: models.ModelTypeLSTM, Err: ErrNotConfigured}
	}
	width, err := checkTrainingData(models.ModelTypeLSTM, features, targets)
	if err != nil {
		return err
	}
	if size := t.config.InputShape[0] * t.config.InputShape[1]; width > size {
		return trainingErr(models.ModelTypeLSTM, "%w: %d features do not fit input shape %v", ErrInvalidInput, width, t.config.InputShape)
	}

	cfg := t.config
	rng := rand.New(rand.NewSource(cfg.Seed))
	scaler := fitScaler(features)
	target := fitTargetScaler(targets)

	seqs := reshapeSequences(scaler.transform(features), cfg.InputShape)
	ys := make([]float64, len(targets))
	for i, y := range targets {
		ys[i] = target.scale(y)
	}

	split := int(float64(len(seqs)) * (1 - *cfg.ValidationSplit))
	if split < 1 {
		split = len(seqs)
	}
	trainX, trainY := seqs[:split], ys[:split]
	valX, valY := seqs[split:], ys[split:]

	net := newLSTMNet(cfg.InputShape[0], cfg.InputShape[1], cfg.Units, rng)
	grads := net.zeroGrads()
	opt := newAdam(cfg.LearningRate, net.params())

	order := make([]int, len(trainX))
	for i := range order {
		order[i] = i
	}

	history := make([]models.LearningCurvePoint, 0, cfg.Epochs)
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if *cfg.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		var epochLoss float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			batch := make([][]float64, 0, end-start)
			batchY := make([]float64, 0, end-start)
			for _, i := range order[start:end] {
				batch = append(batch, trainX[i])
				batchY = append(batchY, trainY[i])
			}

			yhat, cache := net.forward(batch)
			dy := make([]float64, len(yhat))
			for i := range yhat {
				diff := yhat[i] - batchY[i]
				epochLoss += diff * diff
				dy[i] = 2 * diff / float64(len(yhat))
			}

			grads.zero()
			net.backward(cache, dy, grads)
			grads.clip(lstmClipNorm)
			opt.step(net.params(), grads.views())
		}

		point := models.LearningCurvePoint{
			Epoch:        epoch + 1,
			TrainingLoss: epochLoss / float64(len(order)),
		}
		if len(valX) > 0 {
			point.ValidationLoss = net.mse(valX, valY, cfg.BatchSize)
		}
		if math.IsNaN(point.TrainingLoss) || math.IsInf(point.TrainingLoss, 0) {
			return &TrainingError{Model: models.ModelTypeLSTM, Err: fmt.Errorf("%w at epoch %d", ErrDiverged, epoch+1)}
		}
		history = append(history, point)

		if t.logger != nil {
			t.logger.WithFields(logrus.Fields{
				"epoch":    point.Epoch,
				"loss":     point.TrainingLoss,
				"val_loss": point.ValidationLoss,
			}).Debug("LSTM epoch completed")
		}
	}

	t.net = net
	t.scaler = scaler
	t.target = target
	t.width = width
	t.history = history
	return nil
}

// Predict runs the trained network over every row
func (t *LSTMTrainer) Predict(ctx context.Context, features [][]float64) ([]float64, error) {
	if t.net == nil {
		return nil, notTrained(models.ModelTypeLSTM)
	}
	if err := checkPredictionData(models.ModelTypeLSTM, features, t.width); err != nil {
		return nil, err
	}

	seqs := reshapeSequences(t.scaler.transform(features), t.config.InputShape)
	out := make([]float64, 0, len(seqs))
	for start := 0; start < len(seqs); start += t.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+t.config.BatchSize, len(seqs))
		yhat, _ := t.net.forward(seqs[start:end])
		for _, z := range yhat {
			out = append(out, t.target.unscale(z))
		}
	}
	return out, nil
}

// Dispose releases the network weights
func (t *LSTMTrainer) Dispose() {
	t.net = nil
	t.scaler = nil
	t.history = nil
	t.width = 0
}

// GetType returns the model type
func (t *LSTMTrainer) GetType() models.ModelType {
	return models.ModelTypeLSTM
}

// reshapeSequences lays each row out as timesteps*stepFeatures values,
// zero-padding positions past the end of the row. Rows must not be wider than the shape.
func reshapeSequences(rows [][]float64, shape [2]int) [][]float64 {
	size := shape[0] * shape[1]
	out := make([][]float64, len(rows))
	for i, row := range rows {
		seq := make([]float64, size)
		copy(seq, row)
		out[i] = seq
	}
	return out
}

// lstmNet holds the layer weights. Gate blocks are ordered input, forget, cell, output.
type lstmNet struct {
	timesteps, stepFeatures, units int

	wx   *mat.Dense // stepFeatures x 4*units
	wh   *mat.Dense // units x 4*units
	bias []float64  // 4*units
	wy   []float64  // units
	by   []float64  // 1
}

type lstmCache struct {
	xs    []*mat.Dense // per step, batch x stepFeatures
	gates []*mat.Dense // per step, activated gates, batch x 4*units
	cs    []*mat.Dense // cell states, cs[0] is the zero state
	hs    []*mat.Dense // hidden states, hs[0] is the zero state
}

func newLSTMNet(timesteps, stepFeatures, units int, rng *rand.Rand) *lstmNet {
	n := &lstmNet{
		timesteps:    timesteps,
		stepFeatures: stepFeatures,
		units:        units,
		wx:           mat.NewDense(stepFeatures, 4*units, glorot(rng, stepFeatures, 4*units)),
		wh:           mat.NewDense(units, 4*units, glorot(rng, units, 4*units)),
		bias:         make([]float64, 4*units),
		wy:           glorot(rng, units, 1),
		by:           make([]float64, 1),
	}
	for j := units; j < 2*units; j++ {
		n.bias[j] = 1 // forget gate bias
	}
	return n
}

func glorot(rng *rand.Rand, fanIn, fanOut int) []float64 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	w := make([]float64, fanIn*fanOut)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return w
}

func (n *lstmNet) params() [][]float64 {
	return [][]float64{n.wx.RawMatrix().Data, n.wh.RawMatrix().Data, n.bias, n.wy, n.by}
}

func (n *lstmNet) forward(batch [][]float64) ([]float64, *lstmCache) {
	B, T, F, H := len(batch), n.timesteps, n.stepFeatures, n.units
	c := &lstmCache{
		xs:    make([]*mat.Dense, T),
		gates: make([]*mat.Dense, T),
		cs:    make([]*mat.Dense, T+1),
		hs:    make([]*mat.Dense, T+1),
	}
	c.cs[0] = mat.NewDense(B, H, nil)
	c.hs[0] = mat.NewDense(B, H, nil)

	var zh mat.Dense
	for step := 0; step < T; step++ {
		x := mat.NewDense(B, F, nil)
		for b, seq := range batch {
			for f := 0; f < F; f++ {
				x.Set(b, f, seq[step*F+f])
			}
		}

		z := mat.NewDense(B, 4*H, nil)
		z.Mul(x, n.wx)
		zh.Mul(c.hs[step], n.wh)
		z.Add(z, &zh)

		zd := z.RawMatrix().Data
		prev := c.cs[step].RawMatrix().Data
		cNext := mat.NewDense(B, H, nil)
		hNext := mat.NewDense(B, H, nil)
		cd, hd := cNext.RawMatrix().Data, hNext.RawMatrix().Data
		for b := 0; b < B; b++ {
			row := zd[b*4*H : (b+1)*4*H]
			for j := 0; j < H; j++ {
				ig := sigmoid(row[j] + n.bias[j])
				fg := sigmoid(row[H+j] + n.bias[H+j])
				gg := math.Tanh(row[2*H+j] + n.bias[2*H+j])
				og := sigmoid(row[3*H+j] + n.bias[3*H+j])
				row[j], row[H+j], row[2*H+j], row[3*H+j] = ig, fg, gg, og

				k := b*H + j
				cd[k] = fg*prev[k] + ig*gg
				hd[k] = og * math.Tanh(cd[k])
			}
		}
		c.xs[step] = x
		c.gates[step] = z
		c.cs[step+1] = cNext
		c.hs[step+1] = hNext
	}

	last := c.hs[T].RawMatrix().Data
	yhat := make([]float64, B)
	for b := range yhat {
		s := n.by[0]
		for j := 0; j < H; j++ {
			s += last[b*H+j] * n.wy[j]
		}
		yhat[b] = s
	}
	return yhat, c
}

// backward accumulates gradients by backpropagation through time
func (n *lstmNet) backward(c *lstmCache, dy []float64, g *lstmGrads) {
	B, T, H := len(dy), n.timesteps, n.units

	last := c.hs[T].RawMatrix().Data
	dh := make([]float64, B*H)
	dc := make([]float64, B*H)
	for b := 0; b < B; b++ {
		g.by[0] += dy[b]
		for j := 0; j < H; j++ {
			g.wy[j] += last[b*H+j] * dy[b]
			dh[b*H+j] = dy[b] * n.wy[j]
		}
	}

	dz := mat.NewDense(B, 4*H, nil)
	dzd := dz.RawMatrix().Data
	var dwx, dwh, dhPrev mat.Dense
	for step := T - 1; step >= 0; step-- {
		gates := c.gates[step].RawMatrix().Data
		prev := c.cs[step].RawMatrix().Data
		cur := c.cs[step+1].RawMatrix().Data
		for b := 0; b < B; b++ {
			base := b * 4 * H
			for j := 0; j < H; j++ {
				ig, fg, gg, og := gates[base+j], gates[base+H+j], gates[base+2*H+j], gates[base+3*H+j]
				k := b*H + j
				tc := math.Tanh(cur[k])
				dcell := dc[k] + dh[k]*og*(1-tc*tc)

				dzd[base+j] = dcell * gg * ig * (1 - ig)
				dzd[base+H+j] = dcell * prev[k] * fg * (1 - fg)
				dzd[base+2*H+j] = dcell * ig * (1 - gg*gg)
				dzd[base+3*H+j] = dh[k] * tc * og * (1 - og)
				dc[k] = dcell * fg
			}
		}

		dwx.Mul(c.xs[step].T(), dz)
		g.wx.Add(g.wx, &dwx)
		dwh.Mul(c.hs[step].T(), dz)
		g.wh.Add(g.wh, &dwh)
		for b := 0; b < B; b++ {
			for j := 0; j < 4*H; j++ {
				g.bias[j] += dzd[b*4*H+j]
			}
		}

		dhPrev.Mul(dz, n.wh.T())
		copy(dh, dhPrev.RawMatrix().Data)
	}
}

// mse evaluates the loss without touching gradients
func (n *lstmNet) mse(xs [][]float64, ys []float64, batchSize int) float64 {
	var sum float64
	for start := 0; start < len(xs); start += batchSize {
		end := min(start+batchSize, len(xs))
		yhat, _ := n.forward(xs[start:end])
		for i, v := range yhat {
			d := v - ys[start+i]
			sum += d * d
		}
	}
	return sum / float64(len(xs))
}

func (n *lstmNet) zeroGrads() *lstmGrads {
	return &lstmGrads{
		wx:   mat.NewDense(n.stepFeatures, 4*n.units, nil),
		wh:   mat.NewDense(n.units, 4*n.units, nil),
		bias: make([]float64, 4*n.units),
		wy:   make([]float64, n.units),
		by:   make([]float64, 1),
	}
}

type lstmGrads struct {
	wx, wh       *mat.Dense
	bias, wy, by []float64
}

func (g *lstmGrads) views() [][]float64 {
	return [][]float64{g.wx.RawMatrix().Data, g.wh.RawMatrix().Data, g.bias, g.wy, g.by}
}

func (g *lstmGrads) zero() {
	for _, v := range g.views() {
		clear(v)
	}
}

// clip rescales all gradients so their global L2 norm is at most maxNorm
func (g *lstmGrads) clip(maxNorm float64) {
	var sq float64
	for _, v := range g.views() {
		for _, x := range v {
			sq += x * x
		}
	}
	norm := math.Sqrt(sq)
	if norm <= maxNorm {
		return
	}
	scale := maxNorm / norm
	for _, v := range g.views() {
		for i := range v {
			v[i] *= scale
		}
	}
}

// adam implements the Adam optimizer over flat parameter views
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for k, p := range params {
		m, v, g := a.m[k], a.v[k], grads[k]
		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			p[i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
		}
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
