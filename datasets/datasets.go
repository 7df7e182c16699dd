package datasets

// This package provides the caption dataset used for training: per-video feature
// vectors read from a CSV file plus one or more reference captions per video,
// split into train/val/test.
//
// Layout and intended usage:
//
// CaptionDataset
//   - Declares its own ordered input ids (video features, then the shifted
//     caption fed back to the decoder, "state_below") and output ids (the
//     caption). Consumers bind to them by position: InputFeatures,
//     InputStateBelow and OutputCaption.
//   - Holds one Vocabulary per output id, built from training captions.
//   - Samples are fully materialised in memory; captions are small compared to
//     video features and every epoch touches all of them.
//   - Batches come back either as []Sample or as gomlx tensors (Tensors/Yield).

// Stream ids a CaptionDataset declares unless its Options name them.
const (
	DefaultVideoID      = "video"
	DefaultStateBelowID = "state_below"
	DefaultCaptionID    = "description"
)

// Positions of the streams in InputIDs and OutputIDs.
const (
	InputFeatures   = 0
	InputStateBelow = 1
	OutputCaption   = 0
)

// Split names used by the caption CSV.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Sample is one (video, caption) training pair.
type Sample struct {
	VideoID  string
	Caption  string
	Features []float32

	// StateBelow is Target shifted right by one position, starting with PadID.
	StateBelow []int32
	// Target is the encoded caption followed by EOSID, padded with PadID to the
	// dataset's maximum length.
	Target []int32
	// Length counts non-padding entries of Target.
	Length int
}

// FeatureInput returns the video features when pos is the features input.
func (s Sample) FeatureInput(pos int) ([]float32, bool) {
	if pos != InputFeatures {
		return nil, false
	}
	return s.Features, true
}

// TokenInput returns the shifted caption when pos is the state_below input.
func (s Sample) TokenInput(pos int) ([]int32, bool) {
	if pos != InputStateBelow {
		return nil, false
	}
	return s.StateBelow, true
}

// TokenOutput returns the target caption when pos is the caption output.
func (s Sample) TokenOutput(pos int) ([]int32, bool) {
	if pos != OutputCaption {
		return nil, false
	}
	return s.Target, true
}
