package duplicate

import "nagare/internal/entity"

// Decision is what admission does with a candidate.
type Decision int

const (
	DecisionAdmit Decision = iota
	DecisionDrop
	DecisionAsk
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmit:
		return "admit"
	case DecisionDrop:
		return "drop"
	case DecisionAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Decide applies the configured policy to v. The returned action is the one
// stored on the admitted item and is empty when v is not a conflict.
func Decide(v Verdict, s entity.Settings) (Decision, entity.DuplicateAction) {
	if !v.Conflict() {
		return DecisionAdmit, ""
	}

	if v.Kind == entity.DuplicateKindURL {
		switch s.URLDuplicatePolicy {
		case entity.URLPolicyAllow:
			return DecisionAdmit, entity.DuplicateActionAllow
		case entity.URLPolicyAsk:
			return DecisionAsk, ""
		default:
			return DecisionDrop, entity.DuplicateActionSkip
		}
	}

	switch s.FileDuplicatePolicy {
	case entity.FilePolicyOverwrite:
		return DecisionAdmit, entity.DuplicateActionOverwrite
	case entity.FilePolicySkip:
		return DecisionDrop, entity.DuplicateActionSkip
	case entity.FilePolicyAsk:
		return DecisionAsk, ""
	default:
		return DecisionAdmit, entity.DuplicateActionRename
	}
}
