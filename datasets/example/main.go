package main

// Example command that builds (or reloads) the caption dataset described by
// the default parameters, prints the vocabulary and a decoded batch, and
// converts the batch into gomlx tensors.
//
// Usage:
//   go run ./datasets/example -root data
//
// The directory given by -root must hold captions.csv (video_id,split,caption) and
// features.csv (video_id,f0,f1,...). The built dataset is stored under
// -store and reused on the next run.

import (
	"flag"
	"fmt"
	"log"

	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/datasets"
)

func main() {
	root := flag.String("root", "data", "directory holding the captions and features CSVs")
	store := flag.String("store", "datasets", "directory for the stored dataset")
	n := flag.Int("n", 4, "number of training examples to show")
	flag.Parse()

	p := config.Defaults()
	p.Set("DATA_ROOT_PATH", *root)
	p.Set("DATASET_STORE_PATH", *store)

	ds, err := datasets.BuildDataset(p)
	if err != nil {
		log.Fatalf("failed to build caption dataset: %v", err)
	}
	for _, split := range ds.Splits() {
		fmt.Printf("Split %-5s: %d examples\n", split, ds.Len(split))
	}
	for id, v := range ds.Vocabularies() {
		fmt.Printf("Vocabulary %q: %d words\n", id, v.Len())
	}
	fmt.Printf("Feature dim: %d, max caption length: %d\n", ds.FeatureDim(), ds.MaxLen())

	m := min(*n, ds.Len(datasets.SplitTrain))
	if m == 0 {
		fmt.Println("No training examples to show.")
		return
	}
	indices := make([]int, m)
	for i := range m {
		indices[i] = i
	}
	samples, err := ds.Batch(datasets.SplitTrain, indices)
	if err != nil {
		log.Fatalf("failed to build batch: %v", err)
	}
	out := ds.OutputIDs()[0]
	for _, s := range samples {
		decoded, err := ds.Decode(out, s.Target)
		if err != nil {
			log.Fatalf("failed to decode %s: %v", s.VideoID, err)
		}
		fmt.Printf("  %s (%d tokens): %q -> %q\n", s.VideoID, s.Length, s.Caption, decoded)
	}

	inputs, labels, err := ds.Tensors(datasets.SplitTrain, indices)
	if err != nil {
		log.Fatalf("failed to convert batch to gomlx tensors: %v", err)
	}
	for i, t := range inputs {
		fmt.Printf("Input %d: %s\n", i, t.Shape())
	}
	for i, t := range labels {
		fmt.Printf("Label %d: %s\n", i, t.Shape())
	}
}
