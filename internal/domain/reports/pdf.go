package reports

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"evaltrack/internal/domain/evaluation"
)

const (
	pageMargin = 14.0
	colWeight  = 25.0
	colRating  = 25.0
	colScore   = 25.0
	rowHeight  = 7.0

	signatureHeight = 18.0
)

// EvaluationPDF renders an evaluation with its criteria table, total score,
// comments and signature block.
func EvaluationPDF(ev evaluation.Evaluation, criteria evaluation.Criteria) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(pageMargin, 20, pageMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	pageWidth, _ := pdf.GetPageSize()
	contentWidth := pageWidth - 2*pageMargin

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(contentWidth, 10, "Employee Performance Evaluation", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	info := [][2]string{
		{"Employee Name", dash(ev.EmployeeName)},
		{"Job Title", dash(ev.JobTitle)},
		{"Department", dash(ev.Department)},
		{"Period", fmt.Sprintf("%s to %s", dash(ev.PeriodFrom), dash(ev.PeriodTo))},
		{"Status", ev.Status},
	}
	for _, row := range info {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(35, 6, row[0]+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(contentWidth-35, 6, tr(row[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	nameWidth := contentWidth - colWeight - colRating - colScore
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(79, 70, 229)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(nameWidth, rowHeight, "Criteria", "1", 0, "L", true, 0, "")
	pdf.CellFormat(colWeight, rowHeight, "Weight", "1", 0, "C", true, 0, "")
	pdf.CellFormat(colRating, rowHeight, "Rating", "1", 0, "C", true, 0, "")
	pdf.CellFormat(colScore, rowHeight, "Score", "1", 1, "C", true, 0, "")
	pdf.SetTextColor(0, 0, 0)

	for _, cat := range criteria.Categories {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(240, 240, 240)
		pdf.CellFormat(contentWidth, rowHeight, tr(strings.ToUpper(cat.Name)), "1", 1, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, sub := range cat.Subcriteria {
			rating := ev.Ratings[sub.ID]
			ratingText := "-"
			if rating > 0 {
				ratingText = fmt.Sprint(rating)
			}
			pdf.CellFormat(nameWidth, rowHeight, tr(sub.Name), "1", 0, "L", false, 0, "")
			pdf.CellFormat(colWeight, rowHeight, fmt.Sprintf("%g%%", sub.Weight), "1", 0, "C", false, 0, "")
			pdf.CellFormat(colRating, rowHeight, ratingText, "1", 0, "C", false, 0, "")
			pdf.CellFormat(colScore, rowHeight, fmt.Sprintf("%.1f", criteria.ItemScore(sub.ID, rating)), "1", 1, "C", false, 0, "")
		}
	}
	pdf.Ln(6)

	score := criteria.Score(ev.Ratings)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(contentWidth, 8, fmt.Sprintf("Total Score: %.1f / 100", score), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(contentWidth, 8, "Performance Level: "+evaluation.PerformanceLevel(score), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(contentWidth, 8, "Comments & Feedback", "", 1, "L", false, 0, "")
	commentBlock(pdf, tr, contentWidth, "Supervisor Comments:", ev.SupervisorComments)
	commentBlock(pdf, tr, contentWidth, "Employee Comments ("+agreementLabel(ev.EmployeeAgreement)+"):", ev.EmployeeComments)
	if ev.ManagerDecision != "" {
		commentBlock(pdf, tr, contentWidth, "Manager Decision:", ev.ManagerDecision)
	}
	pdf.Ln(6)

	half := contentWidth / 2
	if _, pageHeight := pdf.GetPageSize(); pdf.GetY()+signatureHeight+20 > pageHeight-20 {
		pdf.AddPage()
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(half, 6, "Supervisor Signature", "T", 0, "L", false, 0, "")
	pdf.CellFormat(half, 6, "Employee Signature", "T", 1, "L", false, 0, "")
	top := pdf.GetY()
	drawn := drawSignature(pdf, "sig-supervisor", ev.Signatures.Supervisor, pageMargin, top, half-4)
	if drawSignature(pdf, "sig-employee", ev.Signatures.Employee, pageMargin+half, top, half-4) {
		drawn = true
	}
	if drawn {
		pdf.SetY(top + signatureHeight + 2)
	}
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(half, 6, signedLabel(ev.Signatures.Supervisor, ev.Signatures.SupervisorTimestamp), "", 0, "L", false, 0, "")
	pdf.CellFormat(half, 6, signedLabel(ev.Signatures.Employee, ev.Signatures.EmployeeTimestamp), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render evaluation %s: %w", ev.ID, err)
	}
	return buf.Bytes(), nil
}

func commentBlock(pdf *gofpdf.Fpdf, tr func(string) string, width float64, title, body string) {
	if strings.TrimSpace(body) == "" {
		body = "No comments provided."
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(width, 6, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(width, 5, tr(body), "", "L", false)
	pdf.Ln(3)
}

func agreementLabel(agreement string) string {
	switch agreement {
	case evaluation.AgreementAgree:
		return "Agreed"
	case evaluation.AgreementDisagree:
		return "Disagreed"
	}
	return "Not specified"
}

// drawSignature places a data-URL signature image in a box at (x, y). It
// reports false, leaving the page untouched, when the blob is not a PNG or
// JPEG image.
func drawSignature(pdf *gofpdf.Fpdf, name, signature string, x, y, maxWidth float64) bool {
	imageType, data, ok := decodeDataURL(signature)
	if !ok || !pdf.Ok() {
		return false
	}
	info := pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: imageType}, bytes.NewReader(data))
	if !pdf.Ok() || info == nil || info.Height() == 0 {
		pdf.ClearError()
		return false
	}
	ratio := info.Width() / info.Height()
	w, h := signatureHeight*ratio, signatureHeight
	if w > maxWidth {
		w, h = maxWidth, maxWidth/ratio
	}
	pdf.ImageOptions(name, x, y, w, h, false, gofpdf.ImageOptions{ImageType: imageType}, 0, "")
	return pdf.Ok()
}

// decodeDataURL accepts data:image/png;base64,... and data:image/jpeg;base64,...
func decodeDataURL(value string) (string, []byte, bool) {
	header, payload, found := strings.Cut(value, ",")
	if !found {
		return "", nil, false
	}
	var imageType string
	switch strings.ToLower(header) {
	case "data:image/png;base64":
		imageType = "PNG"
	case "data:image/jpeg;base64", "data:image/jpg;base64":
		imageType = "JPG"
	default:
		return "", nil, false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil || len(data) == 0 {
		return "", nil, false
	}
	return imageType, data, true
}

// signedLabel never prints the signature blob itself.
func signedLabel(signature string, at *time.Time) string {
	if signature == "" {
		return "Not signed"
	}
	if at == nil {
		return "Signed"
	}
	return "Signed " + at.UTC().Format("2006-01-02 15:04 MST")
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
