package moderation

import (
	"encoding/json"
	"log"
)

// ReportEvent is the audit payload published when a report is filed. It
// carries identities and the session reference, never chat content.
type ReportEvent struct {
	ReporterKey string `json:"reporter_key"`
	OffenderKey string `json:"offender_key"`
	SessionID   string `json:"session_id"`
	ReportedAt  int64  `json:"reported_at"`
}

// BanEvent is the audit payload published when a threshold ban is issued.
type BanEvent struct {
	OffenderKey string `json:"offender_key"`
	ReportCount int64  `json:"report_count"`
	ExpiresAt   int64  `json:"expires_at"`
}

// publishReport sends the report event, best effort. Publishing failures
// never affect the report flow.
func (g *Gate) publishReport(ev ReportEvent) {
	if g.events == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[gate] marshal report event: %v", err)
		return
	}
	if err := g.events.PublishReportEvent(data); err != nil {
		log.Printf("[gate] publish report event: %v", err)
	}
}

// publishBan sends the ban event, best effort.
func (g *Gate) publishBan(ev BanEvent) {
	if g.events == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[gate] marshal ban event: %v", err)
		return
	}
	if err := g.events.PublishBanEvent(data); err != nil {
		log.Printf("[gate] publish ban event: %v", err)
	}
}
