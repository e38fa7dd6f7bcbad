package explain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dataset-audit/internal/model"
	"github.com/sells-group/dataset-audit/internal/resilience"
	"github.com/sells-group/dataset-audit/pkg/anthropic"
)

// MockClient implements anthropic.Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

const longText = "The audit recommends fixing the dataset before use because the target column is not declared."

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func testConfig() Config {
	return Config{
		Model:             "claude-haiku-4-5-20251001",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 600_000,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
	}
}

func sampleReport(rows int) model.Report {
	return model.Report{
		AuditID:         "audit-1",
		DatasetSnapshot: model.Snapshot{RowCount: rows, ColumnCount: 3, FileType: "csv"},
		UnassessedRisks: []model.UnassessedRisk{{Category: "target", Description: "Target column not declared.", AffectedComponent: "target"}},
		StructuralRisks: []model.StructuralRisk{
			{RiskID: model.RiskIDLikeColumn, Severity: model.SeverityMedium, Confidence: model.ConfidenceMedium, Evidence: "x"},
		},
		Decision: model.DecisionFix,
		Summary:  model.Summary{Decision: model.DecisionFix, TotalUnassessedRisks: 1, TotalStructuralRisks: 1},
	}
}

func TestExplain_NilClientFallsBack(t *testing.T) {
	t.Parallel()

	e := New(nil, testConfig())
	got := e.Explain(context.Background(), NewRequest(sampleReport(10), AudienceEngineer))
	assert.Equal(t, Fallback(), got)
	assert.True(t, got.Fallback)

	var nilExplainer *Explainer
	assert.Equal(t, Fallback(), nilExplainer.Explain(context.Background(), Request{}))
}

func TestExplain_Success(t *testing.T) {
	t.Parallel()

	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.System == systemPrompt &&
			len(req.Messages) == 1 &&
			strings.Contains(req.Messages[0].Content, "Audience: auditor") &&
			strings.Contains(req.Messages[0].Content, "Explanation mode: overview")
	})).Return(textResponse("  "+longText+"\n"), nil).Once()

	got := New(client, testConfig()).Explain(context.Background(), NewRequest(sampleReport(10), AudienceAuditor))
	assert.False(t, got.Fallback)
	assert.Equal(t, "Audit explanation summary", got.Headline)
	assert.Equal(t, longText, got.Summary)
	assert.Contains(t, got.Disclaimer, "non-authoritative")
	client.AssertExpectations(t)
}

func TestExplain_ShortOutputFallsBack(t *testing.T) {
	t.Parallel()

	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("Too short."), nil).Once()

	got := New(client, testConfig()).Explain(context.Background(), NewRequest(sampleReport(10), AudienceEngineer))
	assert.Equal(t, Fallback(), got)
	client.AssertExpectations(t)
}

func TestExplain_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("invalid api key")).Once()

	got := New(client, testConfig()).Explain(context.Background(), NewRequest(sampleReport(10), AudienceEngineer))
	assert.True(t, got.Fallback)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestExplain_TransientErrorRetried(t *testing.T) {
	t.Parallel()

	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Twice()
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(longText), nil).Once()

	got := New(client, testConfig()).Explain(context.Background(), NewRequest(sampleReport(10), AudienceEngineer))
	assert.False(t, got.Fallback)
	client.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestExplain_OpenCircuitSkipsCall(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}

	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

	e := New(client, cfg)
	req := NewRequest(sampleReport(10), AudienceEngineer)
	assert.True(t, e.Explain(context.Background(), req).Fallback)
	assert.True(t, e.Explain(context.Background(), req).Fallback)
	client.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestExplain_CancelledContextFallsBack(t *testing.T) {
	t.Parallel()

	client := new(MockClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := New(client, testConfig()).Explain(ctx, NewRequest(sampleReport(10), AudienceEngineer))
	assert.True(t, got.Fallback)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestExplain_DoesNotMutateReport(t *testing.T) {
	t.Parallel()

	client := new(MockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(longText), nil)

	r := sampleReport(10)
	before := r.Decision
	New(client, testConfig()).Explain(context.Background(), NewRequest(r, AudienceExecutive))
	assert.Equal(t, before, r.Decision)
	assert.Len(t, r.StructuralRisks, 1)
}

func TestNewRequest_Mode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ModeOverview, NewRequest(sampleReport(LargeDatasetRows), AudienceEngineer).Mode)
	assert.Equal(t, ModeHighLevel, NewRequest(sampleReport(LargeDatasetRows+1), AudienceEngineer).Mode)
}

func TestBuildUserPrompt_HighLevelSummarizes(t *testing.T) {
	t.Parallel()

	prompt, err := buildUserPrompt(NewRequest(sampleReport(LargeDatasetRows+1), AudienceExecutive))
	require.NoError(t, err)
	assert.Contains(t, prompt, `"risk_summary"`)
	assert.NotContains(t, prompt, `"structural_risks"`)
	assert.Contains(t, prompt, "Explanation mode: high_level")

	prompt, err = buildUserPrompt(NewRequest(sampleReport(10), AudienceExecutive))
	require.NoError(t, err)
	assert.Contains(t, prompt, `"structural_risks"`)
	assert.NotContains(t, prompt, `"risk_summary"`)
}

func TestParseAudience(t *testing.T) {
	t.Parallel()

	a, ok := ParseAudience("executive")
	assert.True(t, ok)
	assert.Equal(t, AudienceExecutive, a)
	_, ok = ParseAudience("board")
	assert.False(t, ok)
}

func TestSummarizeRisks(t *testing.T) {
	t.Parallel()

	empty := SummarizeRisks(nil)
	assert.Equal(t, 0, empty.TotalStructuralRisks)
	assert.Equal(t, "none", empty.HighestSeverity)
	assert.Empty(t, empty.RiskTypeCounts)

	s := SummarizeRisks([]model.StructuralRisk{
		{RiskID: model.RiskIDLikeColumn, Severity: model.SeverityMedium},
		{RiskID: model.RiskIDLikeColumn, Severity: model.SeverityLow},
		{RiskID: model.RiskDuplicateRows, Severity: model.SeverityHigh},
	})
	assert.Equal(t, 3, s.TotalStructuralRisks)
	assert.Equal(t, "high", s.HighestSeverity)
	assert.Equal(t, 2, s.RiskTypeCounts["ID_LIKE_COLUMN"])
	assert.Equal(t, []string{"DUPLICATE_ROWS", "ID_LIKE_COLUMN"}, s.RiskIDs())
}
