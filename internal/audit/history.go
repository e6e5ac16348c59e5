package audit

import (
	"sort"
	"time"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/domain"
)

// SessionKey returns the reconstructed session a record belongs to. Records
// written with a session id group by it; legacy rows fall back to the
// (minute, performer) heuristic, which merges two audits by the same operator
// started within the same minute.
func SessionKey(r domain.AuditRecord) string {
	if r.SessionID != "" {
		return "session:" + r.SessionID
	}
	return "legacy:" + r.CreatedAt.UTC().Truncate(time.Minute).Format(time.RFC3339) + "|" + r.PerformedBy
}

// Reconstruct groups flat audit records into sessions, most recent first. The
// result depends only on the record set, not on its order.
func Reconstruct(records []domain.AuditRecord) []domain.AuditSession {
	grouped := map[string][]domain.AuditRecord{}
	for _, r := range records {
		key := SessionKey(r)
		grouped[key] = append(grouped[key], r)
	}

	sessions := make([]domain.AuditSession, 0, len(grouped))
	for key, rs := range grouped {
		sort.Slice(rs, func(i, j int) bool {
			if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
				return rs[i].CreatedAt.Before(rs[j].CreatedAt)
			}
			return rs[i].ID < rs[j].ID
		})

		s := domain.AuditSession{
			Key:         key,
			SessionID:   rs[0].SessionID,
			Date:        rs[0].AuditDate,
			PerformedBy: rs[0].PerformedBy,
			CreatedAt:   rs[0].CreatedAt,
			Records:     rs,
			AllMatched:  true,
		}
		for _, r := range rs {
			if r.Difference == 0 {
				continue
			}
			s.AllMatched = false
			s.Mismatches = append(s.Mismatches, r)
			s.TotalDifference += r.Difference
		}
		s.MismatchCount = len(s.Mismatches)

		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].Key < sessions[j].Key
	})

	return sessions
}

// Collapse drops per-record detail, keeping the session-level aggregates.
func Collapse(sessions []domain.AuditSession) []domain.AuditSession {
	out := make([]domain.AuditSession, len(sessions))
	for i, s := range sessions {
		s.Records = nil
		s.Mismatches = nil
		out[i] = s
	}
	return out
}
