package server

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
)

// ExportLedger streams ledger entries as CSV, newest first, paging
// under the hood so large ledgers do not load into memory at once. A
// user_id query narrows the export to one member's history.
func (s *Server) ExportLedger(c *gin.Context) {
	ctx := c.Request.Context()
	userID := strings.TrimSpace(c.Query("user_id"))

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="ledger.csv"`)
	c.Status(http.StatusOK)

	writer := csv.NewWriter(c.Writer)
	header := []string{
		"id", "user_id", "amount", "source", "source_identifier",
		"reason", "status", "reversal_of_id",
		"balance_before", "balance_after", "occurred_at",
	}
	if err := writer.Write(header); err != nil {
		return
	}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		query := s.db.WithContext(ctx).
			Order("occurred_at DESC, id DESC").
			Limit(pageSize).
			Offset(offset)
		if userID != "" {
			query = query.Where("user_id = ?", userID)
		}

		var entries []ledgerdomain.LedgerEntry
		if err := query.Find(&entries).Error; err != nil {
			s.log.Warn("ledger export aborted", zap.Error(err))
			return
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			reversalOf := ""
			if entry.ReversalOfID != nil {
				reversalOf = entry.ReversalOfID.String()
			}
			record := []string{
				entry.ID.String(),
				entry.UserID,
				strconv.FormatInt(entry.Amount, 10),
				entry.Source,
				entry.SourceIdentifier,
				entry.Reason,
				string(entry.Status),
				reversalOf,
				strconv.FormatInt(entry.BalanceBefore, 10),
				strconv.FormatInt(entry.BalanceAfter, 10),
				entry.OccurredAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
			if err := writer.Write(record); err != nil {
				return
			}
		}
		if len(entries) < pageSize {
			break
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		s.log.Warn("ledger export flush failed", zap.Error(err))
	}
}
