package report

import (
	"bytes"
	"fmt"
	"os"

	"github.com/jung-kurt/gofpdf"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dataset-audit/internal/decision"
	"github.com/sells-group/dataset-audit/internal/model"
)

// PDF is a printable rendering of an audit report for reviewers who do not
// read JSON. The JSON report stays authoritative.
type PDF struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

func newPDF(title, subtitle string) *PDF {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 20)

	p := &PDF{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(33, 37, 41)
	pdf.CellFormat(0, 12, p.tr(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(108, 117, 125)
	pdf.CellFormat(0, 6, p.tr(subtitle), "", 1, "C", false, 0, "")
	pdf.Ln(8)
	return p
}

func (p *PDF) section(title string) {
	p.pdf.SetFont("Arial", "B", 13)
	p.pdf.SetTextColor(33, 37, 41)
	p.pdf.SetFillColor(240, 240, 240)
	p.pdf.CellFormat(0, 9, p.tr(title), "", 1, "L", true, 0, "")
	p.pdf.Ln(3)
}

func (p *PDF) paragraph(text string) {
	p.pdf.SetFont("Arial", "", 10)
	p.pdf.SetTextColor(33, 37, 41)
	p.pdf.MultiCell(0, 5, p.tr(text), "", "L", false)
	p.pdf.Ln(3)
}

func (p *PDF) keyValues(rows [][2]string) {
	for _, kv := range rows {
		p.pdf.SetFont("Arial", "", 10)
		p.pdf.SetTextColor(108, 117, 125)
		p.pdf.CellFormat(55, 6, p.tr(kv[0]+":"), "", 0, "L", false, 0, "")
		p.pdf.SetFont("Arial", "B", 10)
		p.pdf.SetTextColor(33, 37, 41)
		p.pdf.CellFormat(0, 6, p.tr(kv[1]), "", 1, "L", false, 0, "")
	}
	p.pdf.Ln(3)
}

func (p *PDF) decisionBanner(d model.Decision) {
	switch d {
	case model.DecisionAbort:
		p.pdf.SetFillColor(220, 53, 69)
	case model.DecisionFix:
		p.pdf.SetFillColor(255, 193, 7)
	default:
		p.pdf.SetFillColor(40, 167, 69)
	}
	p.pdf.SetFont("Arial", "B", 14)
	p.pdf.SetTextColor(255, 255, 255)
	p.pdf.CellFormat(0, 12, "Recommendation: "+string(d), "", 1, "C", true, 0, "")
	p.pdf.Ln(5)
}

func (p *PDF) risk(r model.StructuralRisk) {
	label := fmt.Sprintf("%s  [severity %s, confidence %s]", r.RiskID, r.Severity, r.Confidence)
	p.pdf.SetFont("Arial", "B", 10)
	p.pdf.SetTextColor(33, 37, 41)
	p.pdf.MultiCell(0, 5, p.tr(label), "", "L", false)

	p.pdf.SetFont("Arial", "", 9)
	p.pdf.SetTextColor(73, 80, 87)
	text := r.Description + "\nEvidence: " + r.Evidence
	if len(r.AffectedColumns) > 0 {
		text += fmt.Sprintf("\nColumns: %v", r.AffectedColumns)
	}
	p.pdf.MultiCell(0, 5, p.tr(text), "", "L", false)
	p.pdf.Ln(2)
}

func (p *PDF) output() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.pdf.Output(&buf); err != nil {
		return nil, eris.Wrap(err, "report: render pdf")
	}
	return buf.Bytes(), nil
}

// RenderPDF renders the report and, when non-nil, the decision trace.
func RenderPDF(r model.Report, trace *decision.Trace) ([]byte, error) {
	p := newPDF("Dataset Audit Report",
		fmt.Sprintf("Audit %s  |  generated %s", r.AuditID[:min(12, len(r.AuditID))], r.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	p.decisionBanner(r.Decision)

	s := r.DatasetSnapshot
	p.section("Dataset Snapshot")
	p.keyValues([][2]string{
		{"File", s.FilePath},
		{"Type", s.FileType},
		{"Size (bytes)", fmt.Sprintf("%d", s.FileSizeBytes)},
		{"Rows", fmt.Sprintf("%d", s.RowCount)},
		{"Columns", fmt.Sprintf("%d", s.ColumnCount)},
		{"Snapshot ID", s.SnapshotID},
	})

	p.section("Summary")
	p.keyValues([][2]string{
		{"Unassessed risks", fmt.Sprintf("%d", r.Summary.TotalUnassessedRisks)},
		{"Structural risks", fmt.Sprintf("%d", r.Summary.TotalStructuralRisks)},
		{"High severity", fmt.Sprintf("%d", r.Summary.HighSeverityRisks)},
	})

	if len(r.UnassessedRisks) > 0 {
		p.section("Unassessed Risks")
		for _, u := range r.UnassessedRisks {
			p.paragraph(fmt.Sprintf("%s (%s): %s", u.Category, u.AffectedComponent, u.Description))
		}
	}

	if len(r.StructuralRisks) > 0 {
		p.section("Structural Risks")
		for _, sr := range r.StructuralRisks {
			p.risk(sr)
		}
	}

	if trace != nil {
		p.section("Decision Trace")
		for _, rt := range trace.Rules {
			mark := "not triggered"
			if rt.Triggered {
				mark = "TRIGGERED"
			}
			p.paragraph(fmt.Sprintf("%s (%s): %s %s", rt.RuleID, mark, rt.Description, rt.Evidence))
		}
		p.paragraph(trace.Summary)
	}

	if r.Notes != nil {
		p.section("Notes")
		p.paragraph(*r.Notes)
	}

	return p.output()
}

// WritePDF renders the report to a file at path.
func WritePDF(path string, r model.Report, trace *decision.Trace) error {
	data, err := RenderPDF(r, trace)
	if err != nil {
		return err
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "report: write pdf %s", path)
}
