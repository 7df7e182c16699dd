// Package training drives a captioning run: it obtains the dataset, builds or
// reloads the model, binds model slots to dataset positions and hands the model
// to the trainer with the hyperparameters read from the parameter bundle.
package training

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/Noofbiz/captioner/callbacks"
	"github.com/Noofbiz/captioner/captioner"
	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/datasets"
	"github.com/Noofbiz/captioner/trainer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnknownDatasetID is returned when INPUTS_IDS_DATASET or OUTPUTS_IDS_DATASET
// names an id the dataset does not declare.
var ErrUnknownDatasetID = errors.New("id not declared by the dataset")

// Dataset is the prepared data handed to the model.
type Dataset interface {
	trainer.Data
	InputIDs() []string
	OutputIDs() []string
	VocabularyLen(id string) (int, error)
	Vocabularies() map[string]*datasets.Vocabulary
}

// Model is a trainable network with named input and output slots.
type Model interface {
	InputIDs() []string
	OutputIDs() []string
	SetInputsMapping(map[string]int)
	SetOutputsMapping(map[string]int)
	SetOptimizer() error
	TrainNet(ctx context.Context, data trainer.Data, p trainer.Params) error
}

// Collaborators are the components TrainModel sequences.
type Collaborators struct {
	BuildDataset   func(p config.Params) (Dataset, error)
	NewModel       func(p config.Params, modelType string, verbose int, name string, vocabularies map[string]*datasets.Vocabulary, storePath string) (Model, error)
	LoadModel      func(storePath string, epoch int) (Model, error)
	BuildCallbacks func(p config.Params, m Model, d Dataset) ([]trainer.Callback, error)
	SaveConfig     func(p config.Params, path string) error
}

// DefaultCollaborators wires the CSV dataset, the captioner model zoo and the
// evaluation and sampling callbacks.
func DefaultCollaborators() Collaborators {
	return Collaborators{
		BuildDataset: func(p config.Params) (Dataset, error) {
			d, err := datasets.BuildDataset(p)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
		NewModel: func(p config.Params, modelType string, verbose int, name string, vocabularies map[string]*datasets.Vocabulary, storePath string) (Model, error) {
			m, err := captioner.NewCaptioningModel(p, modelType, verbose, name, vocabularies, storePath)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		LoadModel: func(storePath string, epoch int) (Model, error) {
			m, err := captioner.LoadModel(storePath, epoch)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		BuildCallbacks: func(p config.Params, m Model, d Dataset) ([]trainer.Callback, error) {
			ev, ok := m.(callbacks.Evaluator)
			if !ok {
				return nil, errors.Errorf("model %T cannot be evaluated", m)
			}
			return callbacks.BuildCallbacks(p, ev, d)
		},
		SaveConfig: config.Save,
	}
}

// requiredKeys must be present in every bundle passed to TrainModel.
var requiredKeys = []string{
	"RELOAD", "MODEL_TYPE", "VERBOSE", "MODEL_NAME", "STORE_PATH",
	"INPUTS_IDS_DATASET", "OUTPUTS_IDS_DATASET",
	"MAX_EPOCH", "BATCH_SIZE", "HOMOGENEOUS_BATCHES", "MAX_OUTPUT_TEXT_LEN", "JOINT_BATCHES",
	"EPOCHS_FOR_SAVE", "EVAL_ON_SETS_KERAS", "PARALLEL_LOADERS", "DATA_AUGMENTATION",
}

// TrainModel builds or reloads a model and trains it. p gains
// OUTPUT_VOCABULARY_SIZE; nothing else in it is modified.
func TrainModel(ctx context.Context, p config.Params, c Collaborators) error {
	for _, k := range requiredKeys {
		if !p.Has(k) {
			return errors.Wrapf(config.ErrMissingParam, "%s", k)
		}
	}
	r := config.NewReader(p)
	reload := r.Int("RELOAD")
	modelType := r.String("MODEL_TYPE")
	verbose := r.Int("VERBOSE")
	name := r.String("MODEL_NAME")
	storePath := r.String("STORE_PATH")
	inputIDs := r.Strings("INPUTS_IDS_DATASET")
	outputIDs := r.Strings("OUTPUTS_IDS_DATASET")
	if err := r.Err(); err != nil {
		return err
	}
	if len(outputIDs) == 0 {
		return errors.Wrap(config.ErrMissingParam, "OUTPUTS_IDS_DATASET is empty")
	}

	if reload > 0 {
		klog.Info("Resuming training.")
	}

	dataset, err := c.BuildDataset(p)
	if err != nil {
		return errors.Wrap(err, "build dataset")
	}
	vocabLen, err := dataset.VocabularyLen(outputIDs[0])
	if err != nil {
		return errors.Wrap(err, "output vocabulary size")
	}
	p.Set("OUTPUT_VOCABULARY_SIZE", int64(vocabLen))

	var model Model
	if reload == 0 {
		model, err = c.NewModel(p, modelType, verbose, name, dataset.Vocabularies(), storePath)
		if err != nil {
			return errors.Wrapf(err, "build %s model", modelType)
		}
		if err := c.SaveConfig(p, filepath.Join(storePath, "config")); err != nil {
			return errors.Wrap(err, "save config")
		}

		inputs, err := buildMapping(model.InputIDs(), inputIDs, dataset.InputIDs())
		if err != nil {
			return errors.Wrap(err, "inputs mapping")
		}
		model.SetInputsMapping(inputs)

		outputs, err := buildMapping(model.OutputIDs(), outputIDs, dataset.OutputIDs())
		if err != nil {
			return errors.Wrap(err, "outputs mapping")
		}
		model.SetOutputsMapping(outputs)
	} else {
		model, err = c.LoadModel(storePath, reload)
		if err != nil {
			return errors.Wrapf(err, "load model for epoch %d", reload)
		}
		if err := model.SetOptimizer(); err != nil {
			return errors.Wrap(err, "set optimizer")
		}
	}

	cbs, err := c.BuildCallbacks(p, model, dataset)
	if err != nil {
		return errors.Wrap(err, "build callbacks")
	}

	start := time.Now()
	klog.V(1).Info("Starting training!")
	tp, err := NewTrainingParams(p, cbs)
	if err != nil {
		return err
	}
	if err := model.TrainNet(ctx, dataset, tp); err != nil {
		return errors.Wrap(err, "train")
	}
	klog.Info(elapsedMessage(time.Since(start)))
	return nil
}

// buildMapping binds modelIDs[i] to the position of paramIDs[i] among
// datasetIDs. paramIDs beyond the model's slots are ignored.
func buildMapping(modelIDs, paramIDs, datasetIDs []string) (map[string]int, error) {
	mapping := make(map[string]int, min(len(modelIDs), len(paramIDs)))
	for i, id := range paramIDs {
		if i >= len(modelIDs) {
			break
		}
		pos := slices.Index(datasetIDs, id)
		if pos < 0 {
			return nil, errors.Wrapf(ErrUnknownDatasetID, "%q (dataset declares %v)", id, datasetIDs)
		}
		mapping[modelIDs[i]] = pos
	}
	return mapping, nil
}

func elapsedMessage(d time.Duration) string {
	secs := d.Seconds()
	return fmt.Sprintf("In total is %.2fs = %.2fm", secs, secs/60.0)
}
