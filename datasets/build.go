package datasets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Noofbiz/captioner/config"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BuildDataset returns the dataset described by the parameter bundle. A dataset
// previously stored under DATASET_STORE_PATH is reused unless REBUILD_DATASET is
// set or it was built with other settings (caption length, tokenization,
// vocabulary limits); otherwise it is built from the CSV files under
// DATA_ROOT_PATH and stored.
func BuildDataset(p config.Params) (*CaptionDataset, error) {
	r := config.NewReader(p)
	name := r.String("DATASET_NAME")
	storeDir := r.StringOr("DATASET_STORE_PATH", "datasets")
	rebuild := r.BoolOr("REBUILD_DATASET", false)
	root := r.StringOr("DATA_ROOT_PATH", ".")
	captions := r.StringOr("CAPTIONS_FILE", "captions.csv")
	features := r.StringOr("FEATURES_FILE", "features.csv")
	opts := Options{
		Name:           name,
		CaptionsPath:   filepath.Join(root, captions),
		FeaturesPath:   filepath.Join(root, features),
		Tokenization:   r.StringOr("TOKENIZATION_METHOD", "tokenize_none"),
		MaxLen:         r.Int("MAX_OUTPUT_TEXT_LEN"),
		MinOccurrences: r.IntOr("MIN_OCCURRENCES_OUTPUT_VOCAB", 0),
		MaxVocabSize:   r.IntOr("MAX_OUTPUT_VOCABULARY_SIZE", 0),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	path := StorePath(storeDir, name)
	if !rebuild {
		if d, ok := loadStored(path, opts); ok {
			return d, nil
		}
	}

	d, err := NewCaptionDataset(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "building dataset %s", name)
	}
	vocabLen, _ := d.VocabularyLen(d.OutputIDs()[OutputCaption])
	klog.Infof("Built dataset %s: train=%s val=%s test=%s, vocabulary=%s, features=%d",
		name, humanize.Comma(int64(d.Len(SplitTrain))), humanize.Comma(int64(d.Len(SplitVal))),
		humanize.Comma(int64(d.Len(SplitTest))), humanize.Comma(int64(vocabLen)), d.FeatureDim())

	if err := SaveDataset(d, path); err != nil {
		return nil, err
	}
	klog.V(1).Infof("Stored dataset at %s", path)
	return d, nil
}

// loadStored returns the dataset at path when it exists and matches opts.
func loadStored(path string, opts Options) (*CaptionDataset, bool) {
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}
	d, err := LoadDataset(path)
	if err != nil {
		klog.Warningf("Ignoring stored dataset %s: %v", path, err)
		return nil, false
	}
	if diffs := d.staleFor(opts); len(diffs) > 0 {
		klog.Warningf("Stored dataset %s was built with other settings (%s), rebuilding",
			path, strings.Join(diffs, "; "))
		return nil, false
	}
	klog.Infof("Loaded dataset %s from %s (train=%s val=%s test=%s)", d.Name, path,
		humanize.Comma(int64(d.Len(SplitTrain))), humanize.Comma(int64(d.Len(SplitVal))),
		humanize.Comma(int64(d.Len(SplitTest))))
	return d, true
}
