package dataset

import "fmt"

// GroundTruthName is the name of the ground truth column.
const GroundTruthName = "@groundTruth"

// PredName names the prediction column of one model and class.
func PredName(model int, class string) string {
	return fmt.Sprintf("@pred:model_%d_class_%s", model, class)
}

// ScoreName names the score column of one model.
func ScoreName(model int) string {
	return fmt.Sprintf("@score:model_%d", model)
}

// ModelName is the display name of a model.
func ModelName(model int) string {
	return fmt.Sprintf("model_%d", model)
}

// ModelsMeta describes the prediction columns: NModels models each
// predicting NClasses values labelled ClassLabels.
type ModelsMeta struct {
	NModels     int      `json:"nModels"`
	NClasses    int      `json:"nClasses"`
	ClassLabels []string `json:"classLabels"`
}

// PredColumns returns, for model m, the dataset column indices of its class
// predictions given the yPred range.
func (m ModelsMeta) PredColumns(yPred Range, model int) []int {
	out := make([]int, m.NClasses)
	for c := range out {
		out[c] = yPred.Start + model*m.NClasses + c
	}
	return out
}
