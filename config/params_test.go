package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsTypedAccessors(t *testing.T) {
	p := Params{
		"MAX_EPOCH":  int64(12),
		"LR":         0.5,
		"RATIO":      3,
		"EARLY_STOP": int64(1),
		"NAME":       "m",
		"IDS":        []any{"a", "b"},
		"SIZES":      []any{int64(4), 8.0},
		"NONE":       nil,
	}

	n, err := p.Int("MAX_EPOCH")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	f, err := p.Float("RATIO")
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	b, err := p.Bool("EARLY_STOP")
	require.NoError(t, err)
	assert.True(t, b)

	ids, err := p.Strings("IDS")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	sizes, err := p.IntsOr("SIZES", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 8}, sizes)

	def, err := p.FloatOr("MIN_LR", 1e-9)
	require.NoError(t, err)
	assert.Equal(t, 1e-9, def)

	opt, err := p.OptionalInt("NONE")
	require.NoError(t, err)
	assert.Nil(t, opt)

	_, err = p.Int("MISSING")
	assert.True(t, errors.Is(err, ErrMissingParam))
	assert.Contains(t, err.Error(), "MISSING")

	_, err = p.Int("LR")
	assert.True(t, errors.Is(err, ErrParamType))

	_, err = p.String("MAX_EPOCH")
	assert.True(t, errors.Is(err, ErrParamType))
}

func TestReaderKeepsFirstError(t *testing.T) {
	r := NewReader(Params{"A": int64(1), "B": "x"})
	assert.Equal(t, 1, r.Int("A"))
	assert.Equal(t, 0, r.Int("B"))
	assert.Equal(t, 0, r.Int("A"), "accessors return zero values after a failure")
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), ErrParamType))
}

func TestLoadJSONNormalizesNumbers(t *testing.T) {
	p, err := LoadJSON([]byte(`{"MAX_EPOCH": 5, "LR": 0.25, "IDS": ["x", 2], "LR_DECAY": null}`))
	require.NoError(t, err)
	assert.Equal(t, int64(5), p["MAX_EPOCH"])
	assert.Equal(t, 0.25, p["LR"])
	assert.Equal(t, []any{"x", int64(2)}, p["IDS"])
	assert.True(t, p.Has("LR_DECAY"))
	assert.Nil(t, p["LR_DECAY"])
}

func TestLoadHCL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.hcl")
	src := `
MODEL_TYPE          = "MLP_Captioner"
MAX_EPOCH           = 3
LR                  = 0.001
EARLY_STOP          = true
HIDDEN_SIZES        = [64, 32]
OUTPUTS_IDS_DATASET = ["description"]
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MLP_Captioner", p["MODEL_TYPE"])
	assert.Equal(t, int64(3), p["MAX_EPOCH"])
	assert.Equal(t, 0.001, p["LR"])
	assert.Equal(t, true, p["EARLY_STOP"])
	assert.Equal(t, []any{int64(64), int64(32)}, p["HIDDEN_SIZES"])

	outs, err := p.Strings("OUTPUTS_IDS_DATASET")
	require.NoError(t, err)
	assert.Equal(t, []string{"description"}, outs)
}

func TestLoadHCLRejectsBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte("model {\n  x = 1\n}\n"), 0644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestSaveThenLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "config")
	p := Params{
		"MODEL_NAME":          "m",
		"OUTPUTS_IDS_DATASET": []any{"description"},
		"HIDDEN_SIZES":        []int{8},
		"LR":                  0.1,
		"RELOAD":              0,
		"LR_DECAY":            nil,
	}
	require.NoError(t, Save(p, path))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "m", got["MODEL_NAME"])
	assert.Equal(t, []any{"description"}, got["OUTPUTS_IDS_DATASET"])
	assert.Equal(t, []int{8}, got["HIDDEN_SIZES"])
	assert.Equal(t, 0.1, got["LR"])
	assert.False(t, got.Has("LR_DECAY"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be renamed away")
}

func TestParseOverride(t *testing.T) {
	k, v, err := ParseOverride("MAX_EPOCH=7")
	require.NoError(t, err)
	assert.Equal(t, "MAX_EPOCH", k)
	assert.Equal(t, int64(7), v)

	_, v, err = ParseOverride("MODEL_TYPE=Linear_Captioner")
	require.NoError(t, err)
	assert.Equal(t, "Linear_Captioner", v)

	_, v, err = ParseOverride(`EVAL_ON_SETS=["val","test"]`)
	require.NoError(t, err)
	assert.Equal(t, []any{"val", "test"}, v)

	_, _, err = ParseOverride("=3")
	assert.True(t, errors.Is(err, ErrBadOverride))

	var o Overrides
	require.NoError(t, o.Set("LR=0.5"))
	p := Defaults()
	require.NoError(t, o.Apply(p))
	assert.Equal(t, 0.5, p["LR"])
}
