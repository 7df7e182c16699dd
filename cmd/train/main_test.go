package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/captioner/captioner"
	"github.com/Noofbiz/captioner/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPrintsEffectiveConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "params.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"MAX_EPOCH": 3, "BATCH_SIZE": 8}`), 0644))

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-config", file,
		"-set", "MAX_EPOCH=5",
		"-set", "MODEL_NAME=tiny",
		"-print-effective-config",
	}, &out)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 5.0, got["MAX_EPOCH"])
	assert.Equal(t, 8.0, got["BATCH_SIZE"])
	assert.Equal(t, "tiny", got["MODEL_NAME"])
	assert.Equal(t, "MLP_Captioner", got["MODEL_TYPE"])
}

func TestRunRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	err := run(ctx, []string{"-set", "NOVALUE", "-print-effective-config"}, &out)
	assert.True(t, errors.Is(err, config.ErrBadOverride), "got %v", err)

	err = run(ctx, []string{"-config", filepath.Join(t.TempDir(), "missing.json")}, &out)
	assert.Error(t, err)

	err = run(ctx, []string{"-no-such-flag"}, &out)
	assert.Error(t, err)
}

func TestRunTrains(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "features.csv"),
		[]byte("video_id,f0,f1\nv1,1,0\nv2,0,1\nv3,1,0\nv4,0,1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "captions.csv"),
		[]byte("video_id,split,caption\nv1,train,a cat\nv2,train,a dog\nv3,val,a cat\nv4,val,a dog\n"), 0644))
	store := filepath.Join(dir, "model")

	err := run(context.Background(), []string{
		"-set", "DATA_ROOT_PATH=" + dir,
		"-set", "DATASET_STORE_PATH=" + filepath.Join(dir, "datasets"),
		"-set", "STORE_PATH=" + store,
		"-set", "MAX_EPOCH=2",
		"-set", "BATCH_SIZE=2",
		"-set", "HIDDEN_SIZES=[4]",
		"-set", "WORD_EMBEDDING_SIZE=4",
		"-set", "VERBOSE=0",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(store, "config"))
	assert.FileExists(t, captioner.CheckpointPath(store, 2))
}
