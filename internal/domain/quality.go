package domain

// Recommendation is the validator's suggested next action for a result.
type Recommendation string

const (
	RecommendationAccept Recommendation = "ACCEPT"
	RecommendationReview Recommendation = "REVIEW"
	RecommendationRetry  Recommendation = "RETRY"
	RecommendationReject Recommendation = "REJECT"
)

// IssueKind classifies a detected quality defect.
type IssueKind string

const (
	IssueColorShift     IssueKind = "COLOR_SHIFT"
	IssueStructureLoss  IssueKind = "STRUCTURE_LOSS"
	IssueFaceMismatch   IssueKind = "FACE_MISMATCH"
	IssueOverallQuality IssueKind = "OVERALL_QUALITY"
)

// IssueSeverity grades how badly a defect affects the result.
type IssueSeverity string

const (
	SeverityLow    IssueSeverity = "LOW"
	SeverityMedium IssueSeverity = "MEDIUM"
	SeverityHigh   IssueSeverity = "HIGH"
)

// QualityIssue describes one defect detected in a generated result.
type QualityIssue struct {
	Kind        IssueKind     `json:"kind"`
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
	MetricValue float64       `json:"metric_value"`
}

// ColorMetric holds the color-difference measurement between the garment
// reference and the generated result.
type ColorMetric struct {
	DeltaE   float64 `json:"delta_e"`
	Accuracy int     `json:"accuracy"`
}

// StructureMetric holds the luminance-based structural similarity proxy.
type StructureMetric struct {
	Similarity float64 `json:"similarity"`
}

// QualityReport is the validation outcome for one job. It is created once,
// never mutated, and replaced wholesale if validation is re-run. The struct is
// persisted as JSON alongside its parent job.
type QualityReport struct {
	OverallScore   int             `json:"overall_score"`
	Recommendation Recommendation  `json:"recommendation"`
	Color          ColorMetric     `json:"color"`
	Structure      StructureMetric `json:"structure"`
	Issues         []QualityIssue  `json:"issues"`
}
