package captable

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
)

// Export formats. Both render the SAME computed snapshot — there is no
// independent recomputation path, so the two outputs can never diverge.
const (
	FormatTabular    = "tabular"    // flat CSV
	FormatStructured = "structured" // indented JSON
)

// Export renders the snapshot in the requested format.
func Export(s *Snapshot, format string) ([]byte, error) {
	switch format {
	case FormatTabular:
		return exportCSV(s)
	case FormatStructured:
		return exportJSON(s)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func exportJSON(s *Snapshot) ([]byte, error) {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(out, '\n'), nil
}

func exportCSV(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"wallet", "balance", "percentage", "approved"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, h := range s.Holders {
		approved := "false"
		if h.Approved {
			approved = "true"
		}
		if err := w.Write([]string{h.Wallet, h.Balance, h.Percentage, approved}); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
