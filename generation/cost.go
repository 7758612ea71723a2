package generation

// Fixed credit costs. Enhancement and fact-check vary by mode and depth.
const (
	CostOutline          = 5
	CostLessonPlan       = 3
	CostScript           = 4
	CostQuiz             = 3
	CostContentVariation = 4
	CostImage            = 2
)

// Cost is the number of credits a completed job with cfg consumes
func Cost(cfg Config) int {
	switch c := cfg.(type) {
	case *OutlineConfig:
		return CostOutline
	case *LessonPlanConfig:
		return CostLessonPlan
	case *ScriptConfig:
		return CostScript
	case *QuizConfig:
		return CostQuiz
	case *ContentVariationConfig:
		return CostContentVariation
	case *EnhancementConfig:
		switch c.Mode {
		case EnhanceExpand, EnhanceResearchEnrich:
			return 3
		default:
			return 2
		}
	case *ImageConfig:
		return CostImage
	case *FactCheckConfig:
		switch c.Depth {
		case DepthThorough:
			return 2
		case DepthComprehensive:
			return 3
		default:
			return 1
		}
	}
	return 0
}
