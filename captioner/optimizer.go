package captioner

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type optimizer interface {
	step(params, grads []*tensor, lr float64)
}

// SetOptimizer (re)creates the optimizer from Config, discarding any moment
// estimates.
func (m *Model) SetOptimizer() error {
	switch strings.ToLower(m.Config.Optimizer) {
	case "adam", "":
		eps := m.Config.Epsilon
		if eps <= 0 {
			eps = 1e-8
		}
		m.opt = &adam{beta1: m.Config.Beta1, beta2: m.Config.Beta2, eps: eps}
	case "sgd":
		m.opt = sgd{}
	default:
		return errors.Wrapf(ErrUnknownOptimizer, "%q", m.Config.Optimizer)
	}
	klog.V(1).Infof("Optimizer %s set (clip_c=%g)", m.Config.Optimizer, m.Config.ClipNorm)
	return nil
}

type sgd struct{}

func (sgd) step(params, grads []*tensor, lr float64) {
	for i, p := range params {
		g := grads[i].Data
		for j := range p.Data {
			p.Data[j] -= float32(lr) * g[j]
		}
	}
}

// adam keeps first and second moment estimates with bias correction.
type adam struct {
	beta1, beta2, eps float64
	t                 int
	m, v              [][]float32
}

func (a *adam) step(params, grads []*tensor, lr float64) {
	if len(a.m) != len(params) {
		a.m = make([][]float32, len(params))
		a.v = make([][]float32, len(params))
		for i, p := range params {
			a.m[i] = make([]float32, len(p.Data))
			a.v[i] = make([]float32, len(p.Data))
		}
	}
	a.t++
	bias1 := 1.0 - math.Pow(a.beta1, float64(a.t))
	bias2 := 1.0 - math.Pow(a.beta2, float64(a.t))
	b1, b2 := float32(a.beta1), float32(a.beta2)

	for i, p := range params {
		g := grads[i].Data
		m, v := a.m[i], a.v[i]
		for j := range p.Data {
			m[j] = b1*m[j] + (1-b1)*g[j]
			v[j] = b2*v[j] + (1-b2)*g[j]*g[j]
			mHat := float64(m[j]) / bias1
			vHat := float64(v[j]) / bias2
			p.Data[j] -= float32(lr * mHat / (math.Sqrt(vHat) + a.eps))
		}
	}
}

// clipGradients records per-tensor gradient norms and rescales all gradients
// so that their global L2 norm does not exceed ClipNorm.
func (m *Model) clipGradients() {
	norms := make(map[string]float64, len(m.grads))
	var total float64
	for _, g := range m.grads {
		var sq float64
		for _, v := range g.Data {
			sq += float64(v) * float64(v)
		}
		norms[g.Name] = math.Sqrt(sq)
		total += sq
	}
	m.gradNorms = norms

	total = math.Sqrt(total)
	if m.Config.ClipNorm <= 0 || total <= m.Config.ClipNorm {
		return
	}
	scale := float32(m.Config.ClipNorm / total)
	for _, g := range m.grads {
		for j := range g.Data {
			g.Data[j] *= scale
		}
	}
}
