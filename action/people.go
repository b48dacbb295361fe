package action

// AnalysisType selects the question analyze_people asks about the people in
// an image.
type AnalysisType string

const (
	AnalysisCount      AnalysisType = "count"
	AnalysisActivities AnalysisType = "activities"
	AnalysisDetailed   AnalysisType = "detailed"
	AnalysisFaces      AnalysisType = "faces"
	AnalysisGroup      AnalysisType = "group"
	AnalysisCustom     AnalysisType = "custom"
)

var analysisTypes = []AnalysisType{
	AnalysisCount,
	AnalysisActivities,
	AnalysisDetailed,
	AnalysisFaces,
	AnalysisGroup,
	AnalysisCustom,
}

func analysisTypeNames() []string {
	names := make([]string, len(analysisTypes))
	for i, t := range analysisTypes {
		names[i] = string(t)
	}
	return names
}

func ParseAnalysisType(s string) (AnalysisType, bool) {
	for _, t := range analysisTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

const defaultPeopleQuestion = "Describe the people in this image."

// Prompt returns the vision prompt for t. question is only used by
// AnalysisCustom; when it is empty the general question is asked instead.
func (t AnalysisType) Prompt(question string) string {
	switch t {
	case AnalysisCount:
		return "How many people are in this image? Provide the count and describe their general positions or groupings."
	case AnalysisActivities:
		return "What are the people in this image doing? Describe their activities, actions, and any interactions between them."
	case AnalysisDetailed:
		return `Analyze each person in this image:
1. Provide a total count
2. For each person, describe:
   - Their position in the image
   - What they're doing
   - Their clothing and appearance
   - Body language and pose
   - Any notable characteristics`
	case AnalysisFaces:
		return `Analyze the faces and expressions in this image:
1. How many people/faces are visible?
2. For each person, describe:
   - Apparent facial expression or emotion
   - Direction they're looking
   - Approximate age range
   - Any distinctive facial features (glasses, facial hair, etc.)
   - Overall demeanor`
	case AnalysisGroup:
		return `Analyze the group dynamics in this image:
1. How many people are present?
2. How are they positioned relative to each other?
3. What interactions or relationships can you infer?
4. What is the social context or setting?
5. What is the overall mood or atmosphere?
6. Describe any notable group behaviors.`
	}
	if question != "" {
		return question
	}
	return defaultPeopleQuestion
}
