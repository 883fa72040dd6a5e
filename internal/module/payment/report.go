package payment

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NameDirectory resolves a user id to a display name for exports. It is
// satisfied by the account module; lookups that fail fall back to the
// stored contact fields.
type NameDirectory interface {
	DisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// MethodStats is the rollup for one payment method.
type MethodStats struct {
	Method         Method `json:"method"`
	TotalCount     int64  `json:"total_count"`
	CompletedCount int64  `json:"completed_count"`
	PendingCount   int64  `json:"pending_count"`
	FailedCount    int64  `json:"failed_count"`

	// CollectedAmount sums settled charges, RefundedAmount sums settled
	// refunds (as a positive number). Both in minor currency units.
	CollectedAmount int64 `json:"collected_amount"`
	RefundedAmount  int64 `json:"refunded_amount"`
}

// StatusStats is the rollup for one ledger status.
type StatusStats struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
	Amount int64  `json:"amount"`
}

// Stats is the ledger rollup for a reporting window.
type Stats struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalCount      int64 `json:"total_count"`
	CompletedCount  int64 `json:"completed_count"`
	PendingCount    int64 `json:"pending_count"`
	FailedCount     int64 `json:"failed_count"`
	CollectedAmount int64 `json:"collected_amount"`
	RefundedAmount  int64 `json:"refunded_amount"`

	// SuccessRate is CompletedCount over TotalCount, 0 for an empty window.
	SuccessRate float64 `json:"success_rate"`

	ByMethod []MethodStats `json:"by_method"`
	ByStatus []StatusStats `json:"by_status"`
}

// GetStats aggregates the ledger over [from, to). A zero method includes
// every network.
func (s *Service) GetStats(ctx context.Context, from, to time.Time, method Method) (*Stats, error) {
	rows, err := s.repo.Aggregate(ctx, from, to, method)
	if err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}

	stats := &Stats{From: from, To: to}
	perMethod := make(map[Method]*MethodStats)
	perStatus := make(map[Status]*StatusStats)
	var order []Method

	for _, row := range rows {
		ms, ok := perMethod[row.Method]
		if !ok {
			ms = &MethodStats{Method: row.Method}
			perMethod[row.Method] = ms
			order = append(order, row.Method)
		}

		ss, ok := perStatus[row.Status]
		if !ok {
			ss = &StatusStats{Status: row.Status}
			perStatus[row.Status] = ss
		}
		ss.Count += row.Count
		ss.Amount += row.Amount

		ms.TotalCount += row.Count
		switch row.Status {
		case StatusCompleted:
			ms.CompletedCount += row.Count
			if row.Refund {
				ms.RefundedAmount += -row.Amount
			} else {
				ms.CollectedAmount += row.Amount
			}
		case StatusPending:
			ms.PendingCount += row.Count
		case StatusFailed:
			ms.FailedCount += row.Count
		}
	}

	for _, method := range order {
		ms := perMethod[method]
		stats.ByMethod = append(stats.ByMethod, *ms)
		stats.TotalCount += ms.TotalCount
		stats.CompletedCount += ms.CompletedCount
		stats.PendingCount += ms.PendingCount
		stats.FailedCount += ms.FailedCount
		stats.CollectedAmount += ms.CollectedAmount
		stats.RefundedAmount += ms.RefundedAmount
	}
	for _, status := range []Status{StatusPending, StatusCompleted, StatusFailed} {
		if ss, ok := perStatus[status]; ok {
			stats.ByStatus = append(stats.ByStatus, *ss)
		}
	}
	if stats.TotalCount > 0 {
		stats.SuccessRate = float64(stats.CompletedCount) / float64(stats.TotalCount)
	}
	return stats, nil
}

// csvHeader is the fixed export column set, kept stable because finance
// tooling downstream matches on it.
var csvHeader = []string{
	"ID", "Reference", "Amount", "Currency", "Method", "Status",
	"Customer", "Phone", "Email", "Request", "CreatedAt",
}

// ExportCSV streams the filtered ledger as CSV. names may be nil; rows
// whose user cannot be resolved carry an empty Customer column.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, filter Filter, names NameDirectory) error {
	// Exports ignore pagination; the filter bounds the window instead.
	filter.Limit = -1
	filter.Offset = 0

	payments, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list payments for export: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	// Resolved names are cached per export; ledgers tend to repeat users.
	resolved := make(map[uuid.UUID]string)
	for _, p := range payments {
		record := []string{
			p.ID.String(),
			p.Reference,
			strconv.FormatInt(p.Amount, 10),
			p.Currency,
			string(p.Method),
			string(p.Status),
			s.exportName(ctx, p, names, resolved),
			p.CustomerPhone,
			p.CustomerEmail,
			uuidOrEmpty(p.RequestID),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (s *Service) exportName(ctx context.Context, p *Payment, names NameDirectory, cache map[uuid.UUID]string) string {
	if names == nil || p.UserID == nil {
		return ""
	}
	if name, ok := cache[*p.UserID]; ok {
		return name
	}
	name, err := names.DisplayName(ctx, *p.UserID)
	if err != nil {
		name = ""
	}
	cache[*p.UserID] = name
	return name
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
