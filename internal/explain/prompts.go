package explain

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/model"
)

const systemPrompt = `You are a NON-AUTHORITATIVE explanation layer for a deterministic data reliability audit system.

OUTPUT RULES:
Write plain text only. Do not use Markdown, bold, bullet points, headings, lists, emojis or formatting symbols.

CONTENT RULES:
You are not a decision-maker.
You must not introduce new risks, metrics, or conclusions.
You must only explain what is explicitly present in the audit JSON.
You must clearly distinguish between detected risks and unassessed uncertainty.
You must not suggest fixes, actions, or next steps.
You must not contradict the final audit decision.
You must not speculate about causes, intent, or column semantics.
You must not guess or infer target column names or meanings.
If information is missing or unverified, state that uncertainty explicitly.

SCALE RULES:
If the audit references summarized risks or high-level counts, speak at a high level.
Do not enumerate columns or repeat large structures.

STYLE RULES:
Write in short paragraphs of two or three sentences.
Use neutral, factual language and avoid causal phrases.

TONE BY AUDIENCE:
Engineer: technical and precise.
Executive: high-level and risk-oriented.
Auditor: formal, traceable, evidence-based.`

const userPromptTemplate = `Explain the audit below in plain text.

Audience: %s
Explanation mode: %s

Structure your response as:
One paragraph explaining why the final decision was reached.
One paragraph describing the most important detected risk or risk pattern.
One paragraph explaining what could not be assessed and why.
One closing sentence summarizing overall data reliability confidence.

Do not format text. Do not speculate. Do not infer missing information.
If target column information is unverified, state that explicitly.
If the dataset is large, remain high-level and avoid detail.

Audit result:
%s
`

// promptPayload is the audit view sent to the model. In high-level mode the
// structural risk list is replaced by its summary.
type promptPayload struct {
	AuditID         string                 `json:"audit_id"`
	Decision        model.Decision         `json:"decision"`
	Summary         model.Summary          `json:"summary"`
	Dataset         datasetView            `json:"dataset"`
	UnassessedRisks []model.UnassessedRisk `json:"unassessed_risks"`
	StructuralRisks []model.StructuralRisk `json:"structural_risks,omitempty"`
	RiskSummary     *RiskSummary           `json:"risk_summary,omitempty"`
}

type datasetView struct {
	FileType    string `json:"file_type"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
}

func buildUserPrompt(req Request) (string, error) {
	r := req.Report
	p := promptPayload{
		AuditID:         r.AuditID,
		Decision:        r.Decision,
		Summary:         r.Summary,
		UnassessedRisks: r.UnassessedRisks,
		Dataset: datasetView{
			FileType:    r.DatasetSnapshot.FileType,
			RowCount:    r.DatasetSnapshot.RowCount,
			ColumnCount: r.DatasetSnapshot.ColumnCount,
		},
	}
	if req.Mode == ModeHighLevel {
		s := SummarizeRisks(r.StructuralRisks)
		p.RiskSummary = &s
	} else {
		p.StructuralRisks = r.StructuralRisks
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "explain: marshal prompt payload")
	}
	return fmt.Sprintf(userPromptTemplate, req.Audience, req.Mode, data), nil
}
