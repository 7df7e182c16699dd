package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// CaptionDataset holds prepared training/validation/test samples for a video
// captioning model together with the vocabularies of its output streams.
type CaptionDataset struct {
	// Name identifies the dataset on disk (Dataset_<Name>.gob).
	Name string

	// BatchSize for yielding gomlx batches.
	BatchSize int

	idsInputs    []string
	idsOutputs   []string
	vocabularies map[string]*Vocabulary
	featureDim   int
	maxLen       int
	splits       map[string][]Sample

	// Build settings, compared against the parameters when a stored copy is reused.
	tokenization   string
	minOccurrences int
	maxVocabSize   int

	// yieldPos is the next train sample returned by Yield.
	yieldPos int
}

// Options describe how to build a CaptionDataset from CSV files.
type Options struct {
	Name         string
	CaptionsPath string
	FeaturesPath string
	// Stream ids; empty values fall back to DefaultVideoID,
	// DefaultStateBelowID and DefaultCaptionID.
	VideoID      string
	StateBelowID string
	CaptionID    string
	// Tokenization is a TOKENIZATION_METHOD name (see TokenizerByName).
	Tokenization string
	MaxLen       int

	MinOccurrences int
	MaxVocabSize   int
}

// NewCaptionDataset reads the captions CSV (video_id, split, caption) and the
// features CSV (video_id, f0..fN), builds the output vocabulary from training
// captions and encodes every sample.
func NewCaptionDataset(opts Options) (*CaptionDataset, error) {
	opts = opts.withDefaults()
	if opts.MaxLen <= 0 {
		return nil, errors.Errorf("max caption length must be positive, got %d", opts.MaxLen)
	}
	tokenize, ok := TokenizerByName(opts.Tokenization)
	if !ok {
		return nil, errors.Errorf("unknown tokenization method %q", opts.Tokenization)
	}

	features, dim, err := readFeatures(opts.FeaturesPath)
	if err != nil {
		return nil, err
	}
	rows, err := readCaptions(opts.CaptionsPath)
	if err != nil {
		return nil, err
	}

	var trainTokens [][]string
	tokenized := make([][]string, len(rows))
	for i, r := range rows {
		tokenized[i] = tokenize(r.caption)
		if r.split == SplitTrain {
			trainTokens = append(trainTokens, tokenized[i])
		}
	}
	if len(trainTokens) == 0 {
		return nil, errors.Wrapf(ErrEmptySplit, "%s in %s", SplitTrain, opts.CaptionsPath)
	}
	vocab := NewVocabulary(trainTokens, opts.MinOccurrences, opts.MaxVocabSize)

	d := &CaptionDataset{
		Name:         opts.Name,
		BatchSize:    32,
		idsInputs:    []string{opts.VideoID, opts.StateBelowID},
		idsOutputs:   []string{opts.CaptionID},
		vocabularies: map[string]*Vocabulary{opts.CaptionID: vocab},
		featureDim:   dim,
		maxLen:       opts.MaxLen,
		splits:       make(map[string][]Sample),

		tokenization:   opts.Tokenization,
		minOccurrences: opts.MinOccurrences,
		maxVocabSize:   opts.MaxVocabSize,
	}

	for i, r := range rows {
		feats, ok := features[r.videoID]
		if !ok {
			return nil, errors.Errorf("caption row %d references video %q without features", i+1, r.videoID)
		}
		s := encodeSample(r.videoID, r.caption, feats, vocab.Encode(tokenized[i]), opts.MaxLen)
		d.splits[r.split] = append(d.splits[r.split], s)
	}
	return d, nil
}

func (o Options) withDefaults() Options {
	if o.VideoID == "" {
		o.VideoID = DefaultVideoID
	}
	if o.StateBelowID == "" {
		o.StateBelowID = DefaultStateBelowID
	}
	if o.CaptionID == "" {
		o.CaptionID = DefaultCaptionID
	}
	if o.Tokenization == "" {
		o.Tokenization = "tokenize_none"
	}
	return o
}

// staleFor lists the build settings of d that differ from opts.
func (d *CaptionDataset) staleFor(opts Options) []string {
	opts = opts.withDefaults()
	var diffs []string
	if d.maxLen != opts.MaxLen {
		diffs = append(diffs, fmt.Sprintf("max length %d != %d", d.maxLen, opts.MaxLen))
	}
	if d.tokenization != opts.Tokenization {
		diffs = append(diffs, fmt.Sprintf("tokenization %q != %q", d.tokenization, opts.Tokenization))
	}
	if d.minOccurrences != opts.MinOccurrences || d.maxVocabSize != opts.MaxVocabSize {
		diffs = append(diffs, fmt.Sprintf("vocabulary limits %d/%d != %d/%d",
			d.minOccurrences, d.maxVocabSize, opts.MinOccurrences, opts.MaxVocabSize))
	}
	want := []string{opts.VideoID, opts.StateBelowID}
	if !slices.Equal(d.idsInputs, want) || !slices.Equal(d.idsOutputs, []string{opts.CaptionID}) {
		diffs = append(diffs, fmt.Sprintf("stream ids %v/%v", d.idsInputs, d.idsOutputs))
	}
	return diffs
}

func encodeSample(videoID, caption string, feats []float32, ids []int32, maxLen int) Sample {
	if len(ids) > maxLen-1 {
		ids = ids[:maxLen-1]
	}
	target := make([]int32, maxLen)
	copy(target, ids)
	target[len(ids)] = EOSID

	stateBelow := make([]int32, maxLen)
	copy(stateBelow[1:], target[:maxLen-1])

	return Sample{
		VideoID:    videoID,
		Caption:    caption,
		Features:   feats,
		StateBelow: stateBelow,
		Target:     target,
		Length:     len(ids) + 1,
	}
}

// InputIDs returns the declared input ids in order: the features stream at
// InputFeatures, the state_below stream at InputStateBelow.
func (d *CaptionDataset) InputIDs() []string { return d.idsInputs }

// OutputIDs returns the declared output ids in order.
func (d *CaptionDataset) OutputIDs() []string { return d.idsOutputs }

// Vocabularies returns the vocabulary of every output id.
func (d *CaptionDataset) Vocabularies() map[string]*Vocabulary { return d.vocabularies }

// VocabularyLen returns the vocabulary size of an output id.
func (d *CaptionDataset) VocabularyLen(id string) (int, error) {
	v, ok := d.vocabularies[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownID, "vocabulary %q", id)
	}
	return v.Len(), nil
}

// FeatureDim is the length of every video feature vector.
func (d *CaptionDataset) FeatureDim() int { return d.featureDim }

// MaxLen is the padded caption length.
func (d *CaptionDataset) MaxLen() int { return d.maxLen }

// Splits returns the names of non-empty splits.
func (d *CaptionDataset) Splits() []string {
	var out []string
	for _, s := range []string{SplitTrain, SplitVal, SplitTest} {
		if len(d.splits[s]) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of samples in split.
func (d *CaptionDataset) Len(split string) int { return len(d.splits[split]) }

// Lengths returns the caption length of every sample of split.
func (d *CaptionDataset) Lengths(split string) []int {
	ss := d.splits[split]
	out := make([]int, len(ss))
	for i, s := range ss {
		out[i] = s.Length
	}
	return out
}

// Sample returns sample i of split.
func (d *CaptionDataset) Sample(split string, i int) (Sample, error) {
	ss := d.splits[split]
	if i < 0 || i >= len(ss) {
		return Sample{}, errors.Errorf("index %d out of range for split %s (len=%d)", i, split, len(ss))
	}
	return ss[i], nil
}

// Batch returns the samples of split at the given indices, in order.
func (d *CaptionDataset) Batch(split string, indices []int) ([]Sample, error) {
	out := make([]Sample, len(indices))
	for pos, idx := range indices {
		s, err := d.Sample(split, idx)
		if err != nil {
			return nil, err
		}
		out[pos] = s
	}
	return out, nil
}

// Decode turns token ids of an output stream into text.
func (d *CaptionDataset) Decode(id string, tokens []int32) (string, error) {
	v, ok := d.vocabularies[id]
	if !ok {
		return "", errors.Wrapf(ErrUnknownID, "vocabulary %q", id)
	}
	return v.Decode(tokens), nil
}

type captionRow struct {
	videoID, split, caption string
}

func readCaptions(path string) ([]captionRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open captions CSV %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	colIndex, err := readHeader(reader, "video_id", "split", "caption")
	if err != nil {
		return nil, errors.Wrapf(err, "captions CSV %s", path)
	}

	var rows []captionRow
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s line %d", path, line)
		}
		split := strings.TrimSpace(strings.ToLower(rec[colIndex["split"]]))
		switch split {
		case SplitTrain, SplitVal, SplitTest:
		default:
			return nil, errors.Errorf("%s line %d: unknown split %q", path, line, split)
		}
		rows = append(rows, captionRow{
			videoID: strings.TrimSpace(rec[colIndex["video_id"]]),
			split:   split,
			caption: strings.TrimSpace(rec[colIndex["caption"]]),
		})
	}
	return rows, nil
}

func readFeatures(path string) (map[string][]float32, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open features CSV %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to read header of %s", path)
	}
	if len(header) < 2 || strings.TrimSpace(strings.ToLower(header[0])) != "video_id" {
		return nil, 0, errors.Errorf("features CSV %s must start with video_id followed by feature columns", path)
	}
	dim := len(header) - 1

	features := make(map[string][]float32)
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, errors.Wrapf(err, "read %s line %d", path, line)
		}
		vec := make([]float32, dim)
		for i := range dim {
			v, err := parseFloat32(rec[i+1])
			if err != nil {
				return nil, 0, errors.Wrapf(err, "%s line %d column %s", path, line, header[i+1])
			}
			vec[i] = v
		}
		features[strings.TrimSpace(rec[0])] = vec
	}
	if len(features) == 0 {
		return nil, 0, errors.Errorf("features CSV %s has no rows", path)
	}
	return features, dim, nil
}
