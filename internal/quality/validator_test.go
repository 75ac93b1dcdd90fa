package quality

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tryon-server/internal/domain"
)

func TestScoreIdenticalBuffers(t *testing.T) {
	img := rgba(180, 40, 90, 1200)

	report := Score(img, img, nil)

	require.Equal(t, 100, report.OverallScore)
	require.Equal(t, domain.RecommendationAccept, report.Recommendation)
	require.Zero(t, report.Color.DeltaE)
	require.Equal(t, 100, report.Color.Accuracy)
	require.InDelta(t, 1.0, report.Structure.Similarity, 1e-9)
	require.Empty(t, report.Issues)
}

func TestScoreWhiteAgainstBlack(t *testing.T) {
	white := rgba(255, 255, 255, 1200)
	black := rgba(0, 0, 0, 1200)

	report := Score(white, black, nil)

	require.Equal(t, 0, report.OverallScore)
	require.Equal(t, domain.RecommendationReject, report.Recommendation)
	require.Equal(t, 0, report.Color.Accuracy)
	require.InDelta(t, 100.0, report.Color.DeltaE, 1e-9)
	require.Zero(t, report.Structure.Similarity)

	require.Len(t, report.Issues, 3)
	require.Equal(t, domain.IssueColorShift, report.Issues[0].Kind)
	require.Equal(t, domain.SeverityHigh, report.Issues[0].Severity)
	require.Equal(t, domain.IssueStructureLoss, report.Issues[1].Kind)
	require.Equal(t, domain.SeverityHigh, report.Issues[1].Severity)
	require.Equal(t, domain.IssueOverallQuality, report.Issues[2].Kind)
	require.Equal(t, domain.SeverityHigh, report.Issues[2].Severity)
}

func TestScoreDeterministic(t *testing.T) {
	garment := rgba(20, 200, 120, 1000)
	result := rgba(60, 170, 140, 1000)
	person := &PersonSignal{FaceSimilarity: 0.8, FaceDetectedSource: true, FaceDetectedResult: true}

	first := Score(garment, result, person)
	second := Score(garment, result, person)
	require.Equal(t, first, second)
}

func TestCompositeScore(t *testing.T) {
	tests := []struct {
		accuracy   int
		similarity float64
		want       int
	}{
		{100, 1.0, 100},
		{100, 0.8, 92},
		{50, 0.5, 50},
		{0, 0, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, compositeScore(tt.accuracy, tt.similarity),
			"accuracy=%d similarity=%v", tt.accuracy, tt.similarity)
	}
}

func TestRecommendationBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  domain.Recommendation
	}{
		{100, domain.RecommendationAccept},
		{85, domain.RecommendationAccept},
		{84, domain.RecommendationReview},
		{70, domain.RecommendationReview},
		{69, domain.RecommendationRetry},
		{50, domain.RecommendationRetry},
		{49, domain.RecommendationReject},
		{0, domain.RecommendationReject},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, recommendationFor(tt.score), "score=%d", tt.score)
	}
}

func TestDetectIssueSeverities(t *testing.T) {
	tests := []struct {
		name       string
		deltaE     float64
		similarity float64
		wantKinds  []domain.IssueKind
		wantSev    []domain.IssueSeverity
	}{
		{
			name: "clean", deltaE: 5, similarity: 0.9,
		},
		{
			name: "moderate color shift", deltaE: 16, similarity: 0.9,
			wantKinds: []domain.IssueKind{domain.IssueColorShift},
			wantSev:   []domain.IssueSeverity{domain.SeverityMedium},
		},
		{
			name: "severe color shift", deltaE: 26, similarity: 0.9,
			wantKinds: []domain.IssueKind{domain.IssueColorShift},
			wantSev:   []domain.IssueSeverity{domain.SeverityHigh},
		},
		{
			name: "moderate structure loss", deltaE: 5, similarity: 0.6,
			wantKinds: []domain.IssueKind{domain.IssueStructureLoss},
			wantSev:   []domain.IssueSeverity{domain.SeverityMedium},
		},
		{
			name: "severe structure loss", deltaE: 5, similarity: 0.4,
			wantKinds: []domain.IssueKind{domain.IssueStructureLoss},
			wantSev:   []domain.IssueSeverity{domain.SeverityHigh},
		},
		{
			name: "both degraded", deltaE: 20, similarity: 0.6,
			wantKinds: []domain.IssueKind{domain.IssueColorShift, domain.IssueStructureLoss, domain.IssueOverallQuality},
			wantSev:   []domain.IssueSeverity{domain.SeverityMedium, domain.SeverityMedium, domain.SeverityHigh},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := detectIssues(tt.deltaE, tt.similarity, nil)
			require.Len(t, issues, len(tt.wantKinds))
			for i := range issues {
				require.Equal(t, tt.wantKinds[i], issues[i].Kind)
				require.Equal(t, tt.wantSev[i], issues[i].Severity)
			}
		})
	}
}

func TestDetectIssuesFaceLeadsList(t *testing.T) {
	person := &PersonSignal{FaceSimilarity: 0.3, FaceDetectedSource: true, FaceDetectedResult: false}
	issues := detectIssues(20, 0.9, person)

	require.NotEmpty(t, issues)
	require.Equal(t, domain.IssueFaceMismatch, issues[0].Kind)
	require.Equal(t, domain.SeverityHigh, issues[0].Severity)
}

func TestDetectIssuesLowLikeness(t *testing.T) {
	person := &PersonSignal{FaceSimilarity: 0.7, FaceDetectedSource: true, FaceDetectedResult: true}
	issues := detectIssues(5, 0.9, person)

	require.Len(t, issues, 1)
	require.Equal(t, domain.IssueFaceMismatch, issues[0].Kind)
	require.Equal(t, domain.SeverityMedium, issues[0].Severity)

	person.FaceSimilarity = 0.55
	issues = detectIssues(5, 0.9, person)
	require.Len(t, issues, 1)
	require.Equal(t, domain.SeverityHigh, issues[0].Severity)
}

func TestBlendPersonSignal(t *testing.T) {
	tests := []struct {
		name       string
		base       int
		deltaE     float64
		similarity float64
		person     PersonSignal
		wantScore  int
		wantRec    domain.Recommendation
	}{
		{
			// 65*0.25 + 90*0.75 = 83.75, minus 15 for similarity below 0.7.
			name: "low face similarity penalty",
			base: 90, deltaE: 10, similarity: 0.8,
			person:    PersonSignal{FaceSimilarity: 0.65, FaceDetectedSource: true, FaceDetectedResult: true},
			wantScore: 69, wantRec: domain.RecommendationRetry,
		},
		{
			// Missing result face forces REJECT no matter the blend.
			name: "no face in result",
			base: 90, deltaE: 10, similarity: 0.8,
			person:    PersonSignal{FaceDetectedSource: true, FaceDetectedResult: false},
			wantScore: 38, wantRec: domain.RecommendationReject,
		},
		{
			// Extreme color shift overrides an otherwise passing blend.
			name: "extreme color shift",
			base: 90, deltaE: 31, similarity: 0.9,
			person:    PersonSignal{FaceSimilarity: 0.9, FaceDetectedSource: true, FaceDetectedResult: true},
			wantScore: 70, wantRec: domain.RecommendationReject,
		},
		{
			// Very low likeness forces REJECT even with a mid score.
			name: "very low likeness",
			base: 80, deltaE: 5, similarity: 0.9,
			person:    PersonSignal{FaceSimilarity: 0.4, FaceDetectedSource: true, FaceDetectedResult: true},
			wantScore: 55, wantRec: domain.RecommendationReject,
		},
		{
			name: "strong signal keeps accept",
			base: 95, deltaE: 3, similarity: 0.95,
			person:    PersonSignal{FaceSimilarity: 0.95, FaceDetectedSource: true, FaceDetectedResult: true},
			wantScore: 95, wantRec: domain.RecommendationAccept,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, rec := blendPersonSignal(tt.base, tt.deltaE, tt.similarity, &tt.person)
			require.Equal(t, tt.wantScore, score)
			require.Equal(t, tt.wantRec, rec)
		})
	}
}

func TestValidatorValidate(t *testing.T) {
	img := rgba(120, 80, 60, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	v := NewValidator(srv.Client(), zerolog.Nop())
	report, err := v.Validate(context.Background(), srv.URL+"/garment", srv.URL+"/result", nil)
	require.NoError(t, err)
	require.Equal(t, 100, report.OverallScore)
	require.Equal(t, domain.RecommendationAccept, report.Recommendation)
}

func TestValidatorValidateDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	v := NewValidator(srv.Client(), zerolog.Nop())
	_, err := v.Validate(context.Background(), srv.URL+"/garment", srv.URL+"/result", nil)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "download garment image", verr.Stage)
}
