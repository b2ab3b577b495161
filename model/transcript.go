package model

// TranscriptSegment is one timestamped span of transcribed speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptWord is a single word with its timing.
type TranscriptWord struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// Transcript is the full transcription result persisted for a track.
// Segments and Words are only meaningful when the track's transcription
// status is completed.
type Transcript struct {
	TrackID  int64               `json:"trackId"`
	Status   string              `json:"status"`
	Text     string              `json:"text,omitempty"`
	Language string              `json:"language,omitempty"`
	Segments []TranscriptSegment `json:"segments,omitempty"`
	Words    []TranscriptWord    `json:"words,omitempty"`
}
