package quality

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tryon-server/internal/domain"
)

// Scoring weights, thresholds and penalties. These are calibration constants
// carried over from the shipped rule set; tune with care.
const (
	colorWeight     = 0.6
	structureWeight = 0.4
	deltaEScale     = 3.0

	colorShiftThreshold    = 15.0
	colorShiftHigh         = 25.0
	structureLossThreshold = 0.65
	structureLossHigh      = 0.50

	personWeight = 0.25
	reportWeight = 0.75

	penaltyNoFace        = 30.0
	penaltyLowFaceSim    = 15.0
	penaltyColorDelta    = 20.0
	penaltyLowStructure  = 15.0
	rejectFaceSimilarity = 0.5
	rejectDeltaE         = 30.0
)

// PersonSignal carries an optional person-consistency measurement from an
// external face check. A nil signal means the measurement is unavailable and
// scoring proceeds on garment metrics alone; callers must not substitute
// invented values for a missing check.
type PersonSignal struct {
	FaceSimilarity     float64
	FaceDetectedSource bool
	FaceDetectedResult bool
}

// ValidationError reports a failure to produce a quality report. It says
// nothing about the job or the images themselves.
type ValidationError struct {
	Stage string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("quality: %s: %v", e.Stage, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Score computes a quality report from raw garment and result pixel buffers.
// It is a pure function: the same buffers and signal always yield the same
// report.
func Score(garment, result []byte, person *PersonSignal) *domain.QualityReport {
	garmentColor := DominantColor(garment)
	resultColor := DominantColor(result)
	deltaE := DeltaE(garmentColor, resultColor)
	accuracy := int(math.Round(clamp(100-deltaE*deltaEScale, 0, 100)))

	garmentLum := MeanLuminance(garment)
	resultLum := MeanLuminance(result)
	similarity := math.Round(clamp(1-math.Abs(garmentLum-resultLum)/255, 0, 1)*100) / 100

	score := compositeScore(accuracy, similarity)
	recommendation := recommendationFor(score)
	if person != nil {
		score, recommendation = blendPersonSignal(score, deltaE, similarity, person)
	}

	return &domain.QualityReport{
		OverallScore:   score,
		Recommendation: recommendation,
		Color:          domain.ColorMetric{DeltaE: deltaE, Accuracy: accuracy},
		Structure:      domain.StructureMetric{Similarity: similarity},
		Issues:         detectIssues(deltaE, similarity, person),
	}
}

// compositeScore combines color accuracy and structural similarity.
func compositeScore(accuracy int, similarity float64) int {
	score := float64(accuracy)*colorWeight + similarity*100*structureWeight
	return int(math.Round(clamp(score, 0, 100)))
}

func recommendationFor(score int) domain.Recommendation {
	switch {
	case score >= 85:
		return domain.RecommendationAccept
	case score >= 70:
		return domain.RecommendationReview
	case score >= 50:
		return domain.RecommendationRetry
	default:
		return domain.RecommendationReject
	}
}

// blendPersonSignal folds the person-consistency measurement into the
// composite. Unrecoverable defects (no face in the result, very low person
// similarity, extreme color shift) force REJECT regardless of the number.
func blendPersonSignal(base int, deltaE, similarity float64, person *PersonSignal) (int, domain.Recommendation) {
	personScore := person.FaceSimilarity * 100
	blended := personScore*personWeight + float64(base)*reportWeight

	var penalty float64
	if !person.FaceDetectedResult {
		penalty += penaltyNoFace
	} else if person.FaceSimilarity < 0.7 {
		penalty += penaltyLowFaceSim
	}
	if deltaE > 20 {
		penalty += penaltyColorDelta
	}
	if similarity < 0.6 {
		penalty += penaltyLowStructure
	}

	score := int(math.Round(clamp(blended-penalty, 0, 100)))

	if !person.FaceDetectedResult || person.FaceSimilarity < rejectFaceSimilarity || deltaE > rejectDeltaE {
		return score, domain.RecommendationReject
	}
	return score, recommendationFor(score)
}

// detectIssues evaluates every rule independently and emits all that apply.
// Face issues, when a person signal is present, lead the list.
func detectIssues(deltaE, similarity float64, person *PersonSignal) []domain.QualityIssue {
	var issues []domain.QualityIssue

	if deltaE > colorShiftThreshold {
		severity := domain.SeverityMedium
		if deltaE > colorShiftHigh {
			severity = domain.SeverityHigh
		}
		issues = append(issues, domain.QualityIssue{
			Kind:        domain.IssueColorShift,
			Severity:    severity,
			Description: fmt.Sprintf("garment color shifted (ΔE=%.1f)", deltaE),
			MetricValue: deltaE,
		})
	}

	if similarity < structureLossThreshold {
		severity := domain.SeverityMedium
		if similarity < structureLossHigh {
			severity = domain.SeverityHigh
		}
		issues = append(issues, domain.QualityIssue{
			Kind:        domain.IssueStructureLoss,
			Severity:    severity,
			Description: fmt.Sprintf("texture detail retention is low (%.0f%%)", similarity*100),
			MetricValue: similarity,
		})
	}

	if deltaE > colorShiftThreshold && similarity < structureLossThreshold {
		issues = append(issues, domain.QualityIssue{
			Kind:        domain.IssueOverallQuality,
			Severity:    domain.SeverityHigh,
			Description: "overall quality is poor, a retry is recommended",
		})
	}

	if person == nil {
		return issues
	}

	var faceIssues []domain.QualityIssue
	if !person.FaceDetectedSource {
		faceIssues = append(faceIssues, domain.QualityIssue{
			Kind:        domain.IssueFaceMismatch,
			Severity:    domain.SeverityHigh,
			Description: "no face detected in the source photo",
		})
	}
	if !person.FaceDetectedResult {
		faceIssues = append(faceIssues, domain.QualityIssue{
			Kind:        domain.IssueFaceMismatch,
			Severity:    domain.SeverityHigh,
			Description: "no face detected in the result image",
		})
	}
	issues = append(faceIssues, issues...)

	if person.FaceSimilarity < 0.75 && person.FaceDetectedSource && person.FaceDetectedResult {
		severity := domain.SeverityMedium
		if person.FaceSimilarity < 0.6 {
			severity = domain.SeverityHigh
		}
		issues = append(issues, domain.QualityIssue{
			Kind:        domain.IssueFaceMismatch,
			Severity:    severity,
			Description: fmt.Sprintf("person likeness retention is low (%.0f%%)", person.FaceSimilarity*100),
			MetricValue: person.FaceSimilarity,
		})
	}

	return issues
}

// Validator fetches the garment and result images and scores them. It never
// touches job state; a failed validation is the caller's problem alone.
type Validator struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewValidator builds a validator with the given HTTP client.
func NewValidator(httpClient *http.Client, logger zerolog.Logger) *Validator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Validator{httpClient: httpClient, logger: logger}
}

// Validate downloads both images and computes the quality report.
func (v *Validator) Validate(ctx context.Context, garmentURL, resultURL string, person *PersonSignal) (*domain.QualityReport, error) {
	started := time.Now()

	garment, err := v.fetchImage(ctx, garmentURL)
	if err != nil {
		return nil, &ValidationError{Stage: "download garment image", Err: err}
	}
	result, err := v.fetchImage(ctx, resultURL)
	if err != nil {
		return nil, &ValidationError{Stage: "download result image", Err: err}
	}

	report := Score(garment, result, person)
	v.logger.Debug().
		Int("score", report.OverallScore).
		Str("recommendation", string(report.Recommendation)).
		Float64("delta_e", report.Color.DeltaE).
		Dur("elapsed", time.Since(started)).
		Msg("quality: validation complete")
	return report, nil
}

func (v *Validator) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
