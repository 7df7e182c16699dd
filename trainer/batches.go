package trainer

import (
	"context"
	"math/rand"
	"sort"

	"github.com/Noofbiz/captioner/datasets"
)

// augmentSigma is the standard deviation of the noise added to video features
// when data augmentation is on.
const augmentSigma = 0.01

// LengthReporter is implemented by data sources that know the caption length
// of every sample; homogeneous batches need it.
type LengthReporter interface {
	Lengths(split string) []int
}

// epochOrder shuffles the train indices. With homogeneous batches each window of
// batchSize*jointBatches shuffled indices is sorted by caption length so batches
// hold captions of similar length.
func epochOrder(rng *rand.Rand, n int, p Params, lengths []int) []int {
	order := rng.Perm(n)
	if !p.HomogeneousBatches || lengths == nil {
		return order
	}
	window := p.BatchSize * max(p.JointBatches, 1)
	for start := 0; start < n; start += window {
		chunk := order[start:min(start+window, n)]
		sort.SliceStable(chunk, func(i, j int) bool {
			return lengths[chunk[i]] < lengths[chunk[j]]
		})
	}
	return order
}

// splitBatches cuts order into consecutive batches of at most size indices.
func splitBatches(order []int, size int) [][]int {
	batches := make([][]int, 0, (len(order)+size-1)/size)
	for start := 0; start < len(order); start += size {
		batches = append(batches, order[start:min(start+size, len(order))])
	}
	return batches
}

type loadedBatch struct {
	samples []datasets.Sample
	err     error
}

// loadBatches fetches batches with a pool of workers and delivers them in
// order. At most 2*workers batches are in flight. The returned channel is
// closed after the last batch or once ctx is done.
func loadBatches(ctx context.Context, data Data, split string, batches [][]int, workers int) <-chan loadedBatch {
	workers = max(min(workers, len(batches)), 1)

	out := make(chan loadedBatch)
	slots := make([]chan loadedBatch, len(batches))
	for i := range slots {
		slots[i] = make(chan loadedBatch, 1)
	}
	inFlight := make(chan struct{}, 2*workers)
	jobs := make(chan int)

	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				samples, err := data.Batch(split, batches[i])
				slots[i] <- loadedBatch{samples: samples, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range batches {
			select {
			case inFlight <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(out)
		for i := range slots {
			var b loadedBatch
			select {
			case b = <-slots[i]:
			case <-ctx.Done():
				return
			}
			<-inFlight
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// augment returns a copy of samples with Gaussian noise added to the video
// features. The dataset's own feature slices are left untouched.
func augment(rng *rand.Rand, samples []datasets.Sample) []datasets.Sample {
	out := make([]datasets.Sample, len(samples))
	for i, s := range samples {
		feats := make([]float32, len(s.Features))
		for j, v := range s.Features {
			feats[j] = v + float32(rng.NormFloat64()*augmentSigma)
		}
		s.Features = feats
		out[i] = s
	}
	return out
}
