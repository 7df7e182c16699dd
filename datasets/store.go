package datasets

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// storeVersion is incremented when the on-disk dataset format changes.
const storeVersion = 2

// storeFormat is the on-disk representation of a CaptionDataset.
type storeFormat struct {
	Version      int
	CreatedAt    int64
	Name         string
	InputIDs     []string
	OutputIDs    []string
	Vocabularies map[string]*Vocabulary
	FeatureDim   int
	MaxLen       int
	Splits       map[string][]Sample

	Tokenization   string
	MinOccurrences int
	MaxVocabSize   int
}

// StorePath returns where a dataset called name is kept under dir.
func StorePath(dir, name string) string {
	return filepath.Join(dir, "Dataset_"+name+".gob")
}

// SaveDataset writes d to path using encoding/gob. It performs an atomic write
// (create temp file then rename).
func SaveDataset(d *CaptionDataset, path string) error {
	if path == "" {
		return errors.New("empty dataset path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp dataset file")
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	sf := storeFormat{
		Version:      storeVersion,
		CreatedAt:    time.Now().Unix(),
		Name:         d.Name,
		InputIDs:     d.idsInputs,
		OutputIDs:    d.idsOutputs,
		Vocabularies: d.vocabularies,
		FeatureDim:   d.featureDim,
		MaxLen:       d.maxLen,
		Splits:       d.splits,

		Tokenization:   d.tokenization,
		MinOccurrences: d.minOccurrences,
		MaxVocabSize:   d.maxVocabSize,
	}
	if err := gob.NewEncoder(tmpFile).Encode(&sf); err != nil {
		return errors.Wrap(err, "encode dataset to temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		klog.Warningf("sync temp dataset file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp dataset file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp dataset to target")
	}
	return nil
}

// LoadDataset reads a dataset written by SaveDataset.
func LoadDataset(path string) (*CaptionDataset, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset file %s", path)
	}
	defer fh.Close()

	var sf storeFormat
	if err := gob.NewDecoder(fh).Decode(&sf); err != nil {
		return nil, errors.Wrapf(err, "decode dataset %s", path)
	}
	if sf.Version != storeVersion {
		return nil, errors.Wrapf(ErrDatasetVersion, "dataset=%d expected=%d", sf.Version, storeVersion)
	}
	if sf.Splits == nil {
		sf.Splits = make(map[string][]Sample)
	}
	return &CaptionDataset{
		Name:         sf.Name,
		BatchSize:    32,
		idsInputs:    sf.InputIDs,
		idsOutputs:   sf.OutputIDs,
		vocabularies: sf.Vocabularies,
		featureDim:   sf.FeatureDim,
		maxLen:       sf.MaxLen,
		splits:       sf.Splits,

		tokenization:   sf.Tokenization,
		minOccurrences: sf.MinOccurrences,
		maxVocabSize:   sf.MaxVocabSize,
	}, nil
}
