// Package moderation implements the gate that stands between a connection
// and matchmaking. It consults the external moderation record store before
// admission and drives the report/ban flow, failing open whenever the store
// is unreachable so moderation outages never take the service down.
package moderation

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"time"

	"github.com/WeshnovskySmart/hearmeapp/internal/metrics"
)

// DefaultKickGrace is how long a banned connection is given to receive its
// you_are_banned notice before the transport is forcibly closed.
const DefaultKickGrace = 500 * time.Millisecond

// RecordStore is the gate's view of the durable moderation store. It is
// satisfied by *ban.Store.
type RecordStore interface {
	IsBanned(ctx context.Context, identity string) (bool, time.Time, error)
	ReportAndCheck(ctx context.Context, identity string) (count int64, banned bool, expiresAt time.Time, err error)
}

// Publisher carries moderation audit events to interested consumers. It is
// satisfied by *messaging.Client. A nil Publisher disables event publishing.
type Publisher interface {
	PublishReportEvent(data []byte) error
	PublishBanEvent(data []byte) error
}

// Admission is the outcome of an admission check.
type Admission struct {
	Allowed   bool
	ExpiresAt time.Time // ban expiry, set when refused
}

// Verdict is the outcome of filing a report.
type Verdict struct {
	Count     int64
	Banned    bool      // true only on the threshold-crossing report
	ExpiresAt time.Time // ban expiry, set when Banned
}

// Gate checks ban status before matchmaking admission and files reports
// against session partners. External store calls happen on the caller's
// goroutine, outside any queue or session lock.
type Gate struct {
	store  RecordStore
	events Publisher

	// KickGrace delays the forced termination of a banned connection so
	// the ban notice has a chance to be delivered first.
	KickGrace time.Duration
}

// NewGate creates a Gate over the given record store. events may be nil.
func NewGate(store RecordStore, events Publisher) *Gate {
	return &Gate{store: store, events: events, KickGrace: DefaultKickGrace}
}

// ClientKey derives the durable moderation identity for a client from its
// remote host. The ephemeral connection identity is useless across
// reconnects, so moderation records are keyed by a hash of where the client
// connects from.
func ClientKey(remoteHost string) string {
	h := sha256.Sum256([]byte(remoteHost))
	return fmt.Sprintf("%x", h[:8])
}

// CheckAdmission performs a point-in-time read of identity's ban status.
// A non-expired ban refuses admission; the caller must notify and forcibly
// terminate the connection rather than enqueue it. Store errors are
// non-fatal: the check fails open and the degraded condition is logged.
func (g *Gate) CheckAdmission(ctx context.Context, identity string) Admission {
	banned, expiresAt, err := g.store.IsBanned(ctx, identity)
	if err != nil {
		log.Printf("[gate] moderation store unreachable, admitting %s (degraded): %v", identity, err)
		return Admission{Allowed: true}
	}
	if banned {
		return Admission{Allowed: false, ExpiresAt: expiresAt}
	}
	return Admission{Allowed: true}
}

// FileReport increments the offender's durable report count and reports
// whether this report crossed the ban threshold. The reporter identity is
// recorded in the audit event only; filing is anonymous to the offender.
// Store errors fail open: the report is lost and logged, nobody is banned.
func (g *Gate) FileReport(ctx context.Context, reporter, offender, sessionID string) Verdict {
	count, banned, expiresAt, err := g.store.ReportAndCheck(ctx, offender)
	if err != nil {
		log.Printf("[gate] report against %s not recorded (degraded): %v", offender, err)
		return Verdict{}
	}

	metrics.ReportsFiled.Inc()
	log.Printf("[gate] report filed against %s count=%d session=%s", offender, count, sessionID)

	g.publishReport(ReportEvent{
		ReporterKey: reporter,
		OffenderKey: offender,
		SessionID:   sessionID,
		ReportedAt:  time.Now().Unix(),
	})

	if banned {
		metrics.BansIssued.Inc()
		log.Printf("[gate] ban issued for %s until %s", offender, expiresAt.Format(time.RFC3339))
		g.publishBan(BanEvent{
			OffenderKey: offender,
			ReportCount: count,
			ExpiresAt:   expiresAt.Unix(),
		})
	}

	return Verdict{Count: count, Banned: banned, ExpiresAt: expiresAt}
}
