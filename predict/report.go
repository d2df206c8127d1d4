package predict

import (
	"fmt"
	"io"
	"strings"
)

// WriteReport renders resp as the plain text report offered for download.
func WriteReport(w io.Writer, resp Response) error {
	symptoms := make([]string, len(resp.SeverityBreakdown))
	for i, sw := range resp.SeverityBreakdown {
		symptoms[i] = sw.Symptom
	}

	var b strings.Builder
	b.WriteString("Health Assist • Prediction Report\n\n")
	fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(symptoms, ", "))
	fmt.Fprintf(&b, "Severity score: %d\n", resp.SeverityScore)

	if len(resp.Predictions) > 0 {
		primary := resp.Predictions[0]
		fmt.Fprintf(&b, "\nPrimary prediction: %s (%.2f%%)\n", primary.Disease, primary.Confidence*100)
		fmt.Fprintf(&b, "Description: %s\n", primary.Description)
		if len(primary.Precautions) > 0 {
			b.WriteString("Precautions:\n")
			for _, p := range primary.Precautions {
				fmt.Fprintf(&b, "- %s\n", p)
			}
		}
		if len(resp.Predictions) > 1 {
			b.WriteString("\nOther possible conditions:\n")
			for _, other := range resp.Predictions[1:] {
				fmt.Fprintf(&b, "- %s (%.2f%%)\n", other.Disease, other.Confidence*100)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
