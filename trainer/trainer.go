// Package trainer runs the epoch loop shared by every captioning network:
// batching, learning rate reduction, periodic evaluation, early stopping,
// checkpointing and the optional training monitor.
package trainer

import (
	"context"
	"math/rand"
	"time"

	"github.com/Noofbiz/captioner/datasets"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Data is the sample source consumed by Run.
type Data interface {
	Len(split string) int
	Batch(split string, indices []int) ([]datasets.Sample, error)
}

// Network is a model Run can train.
type Network interface {
	// TrainBatch applies one update with learning rate lr and returns the batch loss.
	TrainBatch(batch []datasets.Sample, lr float64) (float64, error)
	// Evaluate returns metrics (at least "loss") over a whole split.
	Evaluate(ctx context.Context, data Data, split string, batchSize int) (map[string]float64, error)
	// SaveCheckpoint persists the network after epoch epochs.
	SaveCheckpoint(epoch int) error
	// Summary describes the architecture.
	Summary() string
}

// EvalPoint identifies when an evaluation happens. Epoch counts completed
// epochs, Update counts parameter updates since the run started.
type EvalPoint struct {
	Epoch  int
	Update int
}

// Callback runs at every evaluation point. The returned metrics are merged and
// used for early stopping.
type Callback interface {
	OnEvaluate(ctx context.Context, at EvalPoint) (map[string]float64, error)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(ctx context.Context, at EvalPoint) (map[string]float64, error)

// OnEvaluate calls f.
func (f CallbackFunc) OnEvaluate(ctx context.Context, at EvalPoint) (map[string]float64, error) {
	return f(ctx, at)
}

// History records what happened during a run.
type History struct {
	// EpochLoss is the mean training loss of each epoch run.
	EpochLoss []float64
	// Metrics holds the merged callback metrics of each evaluation.
	Metrics []map[string]float64
	// LearningRates is the learning rate at the end of each epoch.
	LearningRates []float64
	// Checkpoints lists the epochs a checkpoint was saved for.
	Checkpoints  []int
	Updates      int
	StoppedEarly bool
}

// Run trains net on the train split of data.
func Run(ctx context.Context, net Network, data Data, p Params) (*History, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	sched, err := NewSchedule(p)
	if err != nil {
		return nil, err
	}
	n := data.Len(datasets.SplitTrain)
	if n == 0 {
		return nil, ErrNoTrainData
	}
	if p.NGPUs > 1 {
		klog.Warningf("n_gpus=%d requested; training runs on the CPU", p.NGPUs)
	}

	var mon *Monitor
	if p.Tensorboard {
		if mon, err = NewMonitor(p.TensorboardParams); err != nil {
			return nil, err
		}
		if p.TensorboardParams.WriteGraph {
			if err := mon.WriteGraph(net.Summary()); err != nil {
				return nil, err
			}
		}
	}

	r := &run{
		net:     net,
		data:    data,
		p:       p,
		sched:   sched,
		mon:     mon,
		stopper: newEarlyStopper(p.MetricCheck, p.Patience),
		rng:     rand.New(rand.NewSource(p.Seed)),
		lr:      p.InitialLR,
		hist:    &History{},
	}
	if lens, ok := data.(LengthReporter); ok && p.HomogeneousBatches {
		r.lengths = lens.Lengths(datasets.SplitTrain)
	} else if p.HomogeneousBatches {
		klog.Warningf("homogeneous_batches requested but the dataset does not report caption lengths")
	}

	first := p.firstEpoch()
	klog.Infof("Training from epoch %d to %d on %s samples (batch_size=%d, lr=%g)",
		first+1, p.NEpochs, humanize.Comma(int64(n)), p.BatchSize, p.InitialLR)

	for epoch := first; epoch < p.NEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return r.hist, err
		}
		stop, err := r.epoch(ctx, epoch, n)
		if err != nil {
			return r.hist, err
		}
		if stop {
			r.hist.StoppedEarly = true
			klog.Infof("Early stopping at epoch %d (best %s=%.5f at epoch %d)",
				epoch+1, r.stopper.metric, r.stopper.best, r.stopper.bestEpoch)
			break
		}
	}
	return r.hist, nil
}

// run is the mutable state of one Run call.
type run struct {
	net     Network
	data    Data
	p       Params
	sched   *Schedule
	mon     *Monitor
	stopper *earlyStopper
	rng     *rand.Rand
	lengths []int

	lr      float64
	updates int
	hist    *History
}

// epoch trains one epoch (0-based index) and reports whether early stopping
// triggered.
func (r *run) epoch(ctx context.Context, epoch, n int) (bool, error) {
	start := time.Now()
	batches := splitBatches(epochOrder(r.rng, n, r.p, r.lengths), r.p.BatchSize)

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loaded := loadBatches(loadCtx, r.data, datasets.SplitTrain, batches, r.p.NParallelLoaders)

	var sum float64
	var seen int
	stop := false
	for b := range loaded {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if b.err != nil {
			return false, errors.Wrapf(b.err, "load batch at epoch %d", epoch+1)
		}
		samples := b.samples
		if r.p.DataAugmentation {
			samples = augment(r.rng, samples)
		}
		loss, err := r.net.TrainBatch(samples, r.lr)
		if err != nil {
			return false, errors.Wrapf(err, "update %d", r.updates+1)
		}
		r.updates++
		r.hist.Updates = r.updates
		sum += loss * float64(len(samples))
		seen += len(samples)
		klog.V(2).Infof("epoch %d update %d loss %.5f lr %g", epoch+1, r.updates, loss, r.lr)

		if !r.p.ReduceEachEpochs {
			r.lr = r.sched.Next(r.lr, epoch, r.updates)
		}
		if !r.p.EvalOnEpochs && r.evalDue(epoch, r.updates) {
			if stop, err = r.evaluate(ctx, epoch, r.updates); err != nil {
				return false, err
			}
			if stop {
				break
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if seen < n && !stop {
		return false, errors.Errorf("epoch %d ended after %d of %d samples", epoch+1, seen, n)
	}

	done := epoch + 1
	meanLoss := sum / float64(max(seen, 1))
	r.hist.EpochLoss = append(r.hist.EpochLoss, meanLoss)
	if r.p.ReduceEachEpochs {
		r.lr = r.sched.Next(r.lr, epoch, done)
	}
	r.hist.LearningRates = append(r.hist.LearningRates, r.lr)
	klog.V(1).Infof("Epoch %d/%d: loss %.5f, lr %g, %s updates, %s",
		done, r.p.NEpochs, meanLoss, r.lr, humanize.Comma(int64(r.updates)), time.Since(start).Round(time.Millisecond))

	for _, split := range r.p.EvalOnSets {
		bs := r.p.BatchSize
		if r.mon != nil && r.p.TensorboardParams.BatchSize > 0 {
			bs = r.p.TensorboardParams.BatchSize
		}
		m, err := r.net.Evaluate(ctx, r.data, split, bs)
		if err != nil {
			return false, errors.Wrapf(err, "evaluate %s", split)
		}
		klog.Infof("Epoch %d: %s loss %.5f", done, split, m["loss"])
		if r.mon != nil {
			r.mon.RecordMetrics(done, map[string]float64{split + "_loss": m["loss"]})
		}
	}

	if !stop && r.p.EvalOnEpochs && r.evalDue(epoch, done) {
		var err error
		if stop, err = r.evaluate(ctx, epoch, r.updates); err != nil {
			return false, err
		}
	}

	if r.saveDue(done, stop) {
		if err := r.net.SaveCheckpoint(done); err != nil {
			return false, errors.Wrapf(err, "save checkpoint for epoch %d", done)
		}
		r.hist.Checkpoints = append(r.hist.Checkpoints, done)
	}

	if r.mon != nil {
		r.mon.RecordLoss(done, meanLoss)
		if err := r.mon.EndEpoch(done, r.net); err != nil {
			klog.Warningf("Monitor failed at epoch %d: %v", done, err)
		}
	}
	return stop, nil
}

// evalDue reports whether an evaluation falls on units (epochs or updates).
func (r *run) evalDue(epoch, units int) bool {
	if epoch < r.p.StartEvalOnEpoch || len(r.p.ExtraCallbacks) == 0 {
		return false
	}
	return units%max(r.p.EachNEpochs, 1) == 0
}

func (r *run) saveDue(done int, stop bool) bool {
	if done == r.p.NEpochs || stop {
		return true
	}
	return r.p.EpochsForSave > 0 && done%r.p.EpochsForSave == 0
}

// evaluate runs every callback, merges their metrics and consults the early
// stopper.
func (r *run) evaluate(ctx context.Context, epoch, update int) (bool, error) {
	at := EvalPoint{Epoch: epoch + 1, Update: update}
	merged := make(map[string]float64)
	for _, cb := range r.p.ExtraCallbacks {
		m, err := cb.OnEvaluate(ctx, at)
		if err != nil {
			return false, errors.Wrapf(err, "callback at epoch %d", at.Epoch)
		}
		for k, v := range m {
			merged[k] = v
		}
	}
	r.hist.Metrics = append(r.hist.Metrics, merged)
	if r.mon != nil {
		step := at.Epoch
		if !r.p.EvalOnEpochs {
			step = update
		}
		r.mon.RecordMetrics(step, merged)
	}
	return r.stopper.observe(at.Epoch, merged), nil
}
