package captioner

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Noofbiz/captioner/datasets"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// checkpointVersion is incremented when the checkpoint layout changes.
const checkpointVersion = 1

// storedTensor holds a parameter either in full precision (Data) or as float16
// bits (Half).
type storedTensor struct {
	Name  string
	Shape []int
	Data  []float32
	Half  []uint16
}

// checkpointFormat is the on-disk representation of a Model.
type checkpointFormat struct {
	Version        int
	SavedAt        int64
	Epoch          int
	Config         Config
	InputIDs       []string
	OutputIDs      []string
	InputsMapping  map[string]int
	OutputsMapping map[string]int
	VocabID        string
	Vocabulary     *datasets.Vocabulary
	Params         []storedTensor
}

// CheckpointPath returns where the checkpoint of epoch is kept under storePath.
func CheckpointPath(storePath string, epoch int) string {
	return filepath.Join(storePath, fmt.Sprintf("epoch_%d.gob", epoch))
}

// SaveCheckpoint writes the model to <StorePath>/epoch_<epoch>.gob using
// encoding/gob. It performs an atomic write (create temp file then rename).
func (m *Model) SaveCheckpoint(epoch int) error {
	path := CheckpointPath(m.Config.StorePath, epoch)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}

	cf := checkpointFormat{
		Version:        checkpointVersion,
		SavedAt:        time.Now().Unix(),
		Epoch:          epoch,
		Config:         m.Config,
		InputIDs:       m.inputIDs,
		OutputIDs:      m.outputIDs,
		InputsMapping:  m.inputsMapping,
		OutputsMapping: m.outputsMapping,
		VocabID:        m.vocabID,
		Vocabulary:     m.vocab,
	}
	for _, p := range m.params {
		st := storedTensor{Name: p.Name, Shape: p.Shape}
		if m.Config.HalfPrecision {
			st.Half = make([]uint16, len(p.Data))
			for i, v := range p.Data {
				st.Half[i] = float16.Fromfloat32(v).Bits()
			}
		} else {
			st.Data = p.Data
		}
		cf.Params = append(cf.Params, st)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint file")
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	if err := gob.NewEncoder(tmpFile).Encode(&cf); err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	if err := tmpFile.Sync(); err != nil {
		klog.Warningf("sync temp checkpoint file: %v", err)
	}
	info, statErr := tmpFile.Stat()
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp checkpoint file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp checkpoint to target")
	}
	if statErr == nil {
		klog.V(1).Infof("Saved checkpoint %s (%s)", path, humanize.Bytes(uint64(info.Size())))
	}
	return nil
}

// LoadModel restores the model saved for epoch under storePath. Mappings are
// restored with it; the optimizer starts fresh and must be set with
// SetOptimizer before training.
func LoadModel(storePath string, epoch int) (*Model, error) {
	path := CheckpointPath(storePath, epoch)
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint %s", path)
	}
	defer fh.Close()

	var cf checkpointFormat
	if err := gob.NewDecoder(fh).Decode(&cf); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	if cf.Version != checkpointVersion {
		return nil, errors.Wrapf(ErrCheckpointFormat, "checkpoint=%d expected=%d", cf.Version, checkpointVersion)
	}
	if cf.Vocabulary == nil {
		return nil, errors.Wrapf(ErrCheckpointFormat, "%s has no vocabulary", path)
	}

	cfg := cf.Config
	cfg.StorePath = storePath
	m := newModel(cfg, cf.VocabID, cf.Vocabulary)
	m.inputIDs = cf.InputIDs
	m.outputIDs = cf.OutputIDs
	m.inputsMapping = cf.InputsMapping
	m.outputsMapping = cf.OutputsMapping

	for _, st := range cf.Params {
		t := &tensor{Name: st.Name, Shape: st.Shape, Data: st.Data}
		if st.Half != nil {
			t.Data = make([]float32, len(st.Half))
			for i, bits := range st.Half {
				t.Data[i] = float16.Frombits(bits).Float32()
			}
		}
		m.params = append(m.params, t)
	}
	if len(m.params) > 0 {
		if len(m.params) < 3 || len(m.params)%2 == 0 {
			return nil, errors.Wrapf(ErrCheckpointFormat, "%s has %d parameter tensors", path, len(m.params))
		}
		m.allocGrads()
		m.built = true
	}
	klog.Infof("Loaded model %q from %s", cfg.Name, path)
	return m, nil
}
