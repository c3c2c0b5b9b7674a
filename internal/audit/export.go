package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Format names a supported export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatCEF  Format = "cef"
)

// ParseFormat maps a user-supplied format name onto a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatCEF:
		return FormatCEF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Export writes the records to w in the requested format. Records are
// written in the order given; callers sort before exporting.
func Export(w io.Writer, format Format, records []Record) error {
	switch format {
	case FormatJSON:
		return exportJSON(w, records)
	case FormatCSV:
		return exportCSV(w, records)
	case FormatCEF:
		return exportCEF(w, records)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// exportJSON writes an indented JSON array. Each element uses the same
// canonical field set the hash covers, plus the hash itself, so exported
// records can be re-verified elsewhere.
func exportJSON(w io.Writer, records []Record) error {
	out := make([]map[string]any, 0, len(records))
	for i := range records {
		out = append(out, canonicalFields(&records[i], true))
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var csvHeader = []string{
	"id", "timestamp", "agentId", "action", "outcome", "protocol",
	"reason", "metadata", "sequence", "previousHash", "hash",
}

// exportCSV writes RFC 4180 rows. Metadata does not flatten into a fixed
// column set, so it is carried as one JSON-encoded field.
func exportCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range records {
		rec := &records[i]
		metadata := ""
		if len(rec.Metadata) > 0 {
			raw, err := canonicalJSON(rec.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for record %s: %w", rec.ID, err)
			}
			metadata = string(raw)
		}
		row := []string{
			rec.ID,
			rec.Timestamp,
			rec.AgentID,
			rec.Action,
			string(rec.Outcome),
			rec.Protocol,
			rec.Reason,
			metadata,
			fmt.Sprintf("%d", rec.Sequence),
			rec.PreviousHash,
			rec.Hash,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

const (
	cefVendor  = "GovLedger"
	cefProduct = "AuditTrail"
	cefVersion = "1.0"
)

// exportCEF writes ArcSight Common Event Format lines, one per record.
// Denials map to severity 7, permits to 3, so SIEM rules can alert on
// blocked actions without parsing extensions.
func exportCEF(w io.Writer, records []Record) error {
	for i := range records {
		rec := &records[i]
		severity := "3"
		if rec.Outcome == OutcomeDeny {
			severity = "7"
		}
		name := "Governance Decision: " + rec.Action

		var b strings.Builder
		b.WriteString("CEF:0|")
		b.WriteString(cefVendor)
		b.WriteString("|")
		b.WriteString(cefProduct)
		b.WriteString("|")
		b.WriteString(cefVersion)
		b.WriteString("|")
		b.WriteString(cefHeaderEscape(rec.Action))
		b.WriteString("|")
		b.WriteString(cefHeaderEscape(name))
		b.WriteString("|")
		b.WriteString(severity)
		b.WriteString("|")

		ext := []struct{ key, value string }{
			{"rt", rec.Timestamp},
			{"src", rec.AgentID},
			{"act", rec.Action},
			{"outcome", string(rec.Outcome)},
			{"cs1Label", "recordId"},
			{"cs1", rec.ID},
			{"cs2Label", "previousHash"},
			{"cs2", rec.PreviousHash},
			{"cs3Label", "recordHash"},
			{"cs3", rec.Hash},
			{"msg", rec.Reason},
		}
		first := true
		for _, kv := range ext {
			if kv.value == "" {
				continue
			}
			if !first {
				b.WriteString(" ")
			}
			first = false
			b.WriteString(kv.key)
			b.WriteString("=")
			b.WriteString(cefExtensionEscape(kv.value))
		}
		b.WriteString("\n")

		if _, err := io.WriteString(w, b.String()); err != nil {
			return fmt.Errorf("write cef line: %w", err)
		}
	}
	return nil
}

var (
	cefHeaderEscaper    = strings.NewReplacer(`\`, `\\`, `|`, `\|`, "\n", `\n`, "\r", `\r`)
	cefExtensionEscaper = strings.NewReplacer(`\`, `\\`, `=`, `\=`, "\n", `\n`, "\r", `\r`)
)

func cefHeaderEscape(s string) string    { return cefHeaderEscaper.Replace(s) }
func cefExtensionEscape(s string) string { return cefExtensionEscaper.Replace(s) }
