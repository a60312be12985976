package manifest

// Stage names a pipeline step.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageDiarize    Stage = "diarize"
	StageTranscribe Stage = "transcribe"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StageMix        Stage = "mix"
	StageMux        Stage = "mux"
)

var stageOrder = []Stage{
	StageExtract,
	StageDiarize,
	StageTranscribe,
	StageTranslate,
	StageSynthesize,
	StageMix,
	StageMux,
}

// Order returns the stages in topological order.
func Order() []Stage {
	return append([]Stage(nil), stageOrder...)
}

// ParseStage resolves a stage name.
func ParseStage(value string) (Stage, bool) {
	for _, st := range stageOrder {
		if string(st) == value {
			return st, true
		}
	}
	return "", false
}

// Downstream returns stage followed by every stage after it.
func Downstream(stage Stage) []Stage {
	for i, st := range stageOrder {
		if st == stage {
			return append([]Stage(nil), stageOrder[i:]...)
		}
	}
	return nil
}

// Upstream returns the stage immediately before stage, or "" for the first.
func Upstream(stage Stage) Stage {
	for i, st := range stageOrder {
		if st == stage && i > 0 {
			return stageOrder[i-1]
		}
	}
	return ""
}
