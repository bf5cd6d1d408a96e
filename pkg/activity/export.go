package activity

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/compliance-ops/regfabric/pkg/models"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

// Supported export formats.
const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatXML  ExportFormat = "xml"
)

// Export writes the events matching the filter to w in the given format.
func (f *Feed) Export(w io.Writer, filter models.ActivityFilter, format ExportFormat) error {
	events := f.Query(filter)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case FormatCSV:
		return exportCSV(w, events)
	case FormatXML:
		return exportXML(w, events)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func exportCSV(w io.Writer, events []*models.AgentActivityEvent) error {
	cw := csv.NewWriter(w)
	header := []string{"event_id", "agent_id", "activity_type", "severity", "title", "description", "timestamp", "decision_action", "decision_confidence"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, e := range events {
		action, confidence := "", ""
		if e.Decision != nil {
			action = e.Decision.Action
			confidence = strconv.FormatFloat(e.Decision.Confidence, 'f', 4, 64)
		}
		row := []string{
			e.EventID,
			e.AgentID,
			string(e.ActivityType),
			string(e.Severity),
			e.Title,
			e.Description,
			e.Timestamp.Format(time.RFC3339),
			action,
			confidence,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type xmlEvent struct {
	EventID      string `xml:"event_id"`
	AgentID      string `xml:"agent_id"`
	ActivityType string `xml:"activity_type"`
	Severity     string `xml:"severity"`
	Title        string `xml:"title"`
	Description  string `xml:"description,omitempty"`
	Timestamp    string `xml:"timestamp"`
}

type xmlExport struct {
	XMLName xml.Name   `xml:"activity_events"`
	Events  []xmlEvent `xml:"event"`
}

func exportXML(w io.Writer, events []*models.AgentActivityEvent) error {
	doc := xmlExport{Events: make([]xmlEvent, 0, len(events))}
	for _, e := range events {
		doc.Events = append(doc.Events, xmlEvent{
			EventID:      e.EventID,
			AgentID:      e.AgentID,
			ActivityType: string(e.ActivityType),
			Severity:     string(e.Severity),
			Title:        e.Title,
			Description:  e.Description,
			Timestamp:    e.Timestamp.Format(time.RFC3339),
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
