package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Noofbiz/captioner/captioner"
	"github.com/Noofbiz/captioner/config"
	"github.com/Noofbiz/captioner/datasets"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCorpus lays out three videos, each always described by the same caption.
func writeCorpus(t *testing.T, dir string) {
	t.Helper()
	captions := []string{"a red car", "a green ball", "a blue car"}
	feats := []string{"video_id,f0,f1,f2"}
	rows := []string{"video_id,split,caption"}
	for i := 0; i < 12; i++ {
		class := i % len(captions)
		vec := []string{"0", "0", "0"}
		vec[class] = "1"
		id := fmt.Sprintf("v%d", i)
		feats = append(feats, id+","+strings.Join(vec, ","))
		split := datasets.SplitTrain
		if i >= 9 {
			split = datasets.SplitVal
		}
		rows = append(rows, id+","+split+","+captions[class])
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "features.csv"), []byte(strings.Join(feats, "\n")+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "captions.csv"), []byte(strings.Join(rows, "\n")+"\n"), 0644))
}

func corpusParams(dir string) config.Params {
	p := config.Defaults()
	p.Merge(config.Params{
		"DATA_ROOT_PATH":                   dir,
		"DATASET_STORE_PATH":               filepath.Join(dir, "datasets"),
		"STORE_PATH":                       filepath.Join(dir, "model"),
		"MAX_OUTPUT_TEXT_LEN":              int64(5),
		"WORD_EMBEDDING_SIZE":              int64(4),
		"HIDDEN_SIZES":                     []any{int64(8)},
		"LR":                               0.01,
		"MAX_EPOCH":                        int64(4),
		"BATCH_SIZE":                       int64(3),
		"PARALLEL_LOADERS":                 int64(2),
		"N_SAMPLES":                        int64(1),
		"VERBOSE":                          int64(0),
		"TENSORBOARD":                      true,
		"LOG_DIR":                          filepath.Join(dir, "logs"),
		"HISTOGRAM_FREQ":                   int64(2),
		"EMBEDDINGS_FREQ":                  int64(2),
		"LABEL_WORD_EMBEDDINGS_WITH_VOCAB": true,
	})
	return p
}

func TestTrainModelWithDefaultCollaborators(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir)
	store := filepath.Join(dir, "model")
	ctx := context.Background()

	p := corpusParams(dir)
	require.NoError(t, TrainModel(ctx, p, DefaultCollaborators()))

	saved, err := config.Load(filepath.Join(store, "config"))
	require.NoError(t, err)
	// <pad> <unk> <eos> a car ball blue green red
	assert.Equal(t, int64(9), saved["OUTPUT_VOCABULARY_SIZE"])
	for epoch := 1; epoch <= 4; epoch++ {
		assert.FileExists(t, captioner.CheckpointPath(store, epoch))
	}
	logs := filepath.Join(dir, "logs")
	assert.FileExists(t, filepath.Join(logs, "loss.png"))
	assert.FileExists(t, filepath.Join(logs, "metrics.png"))
	hist, _ := filepath.Glob(filepath.Join(logs, "weights_*.png"))
	assert.NotEmpty(t, hist)
	embs, _ := filepath.Glob(filepath.Join(logs, "embeddings_*_metadata.tsv"))
	assert.NotEmpty(t, embs)

	loaded, err := captioner.LoadModel(store, 4)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{captioner.SlotVideo: datasets.InputFeatures, captioner.SlotStateBelow: datasets.InputStateBelow},
		loaded.InputsMapping())
	assert.Equal(t, map[string]int{captioner.SlotDescription: datasets.OutputCaption}, loaded.OutputsMapping())

	resume := corpusParams(dir)
	resume["RELOAD"] = int64(2)
	resume["MAX_EPOCH"] = int64(5)
	require.NoError(t, TrainModel(ctx, resume, DefaultCollaborators()))
	assert.FileExists(t, captioner.CheckpointPath(store, 5))

	resumed, err := captioner.LoadModel(store, 5)
	require.NoError(t, err)
	assert.Equal(t, loaded.InputsMapping(), resumed.InputsMapping())
}

func TestTrainModelRejectsSwappedInputIDs(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir)
	store := filepath.Join(dir, "model")

	p := corpusParams(dir)
	p["INPUTS_IDS_DATASET"] = []any{"state_below", "video"}
	err := TrainModel(context.Background(), p, DefaultCollaborators())
	require.Error(t, err)
	assert.True(t, errors.Is(err, captioner.ErrNotMapped), "got %v", err)
	assert.NoFileExists(t, captioner.CheckpointPath(store, 1))
}
