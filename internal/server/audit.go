package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
)

// AuditIndex serves two query forms: with a userId or username it
// returns that member's paginated history plus current balance,
// otherwise the all-users summary.
func (s *Server) AuditIndex(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	username := strings.TrimSpace(c.Query("username"))
	if userID != "" || username != "" {
		s.auditUserHistory(c, userID, username)
		return
	}

	summaries, err := s.ledgerRepo.UserSummaries(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": summaries})
}

func (s *Server) auditUserHistory(c *gin.Context, userID, username string) {
	ctx := c.Request.Context()

	var user *ledgerdomain.User
	var err error
	if userID != "" {
		user, err = s.ledgerRepo.GetUser(ctx, userID)
	} else {
		user, err = s.ledgerRepo.FindUserByName(ctx, username)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filter, err := parseLedgerFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.ledgerRepo.FindByUser(ctx, user.ID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	total, err := s.ledgerRepo.CountByUser(ctx, user.ID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerRepo.GetBalance(ctx, user.ID)
	if err != nil && !errors.Is(err, ledgerdomain.ErrBalanceNotFound) {
		AbortWithError(c, err)
		return
	}
	if balance == nil {
		balance = &ledgerdomain.Balance{UserID: user.ID, Level: 1}
	}

	c.JSON(http.StatusOK, gin.H{
		"user":    user,
		"balance": balance,
		"total":   total,
		"entries": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *Server) ValidateUser(c *gin.Context) {
	result, err := s.reconcileSvc.ValidateUserBalance(c.Request.Context(), c.Param("userId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CorrectUser(c *gin.Context) {
	// The body is optional; a bare POST corrects with the default reason.
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, newValidationError("reason", "invalid_body", "body must be JSON with an optional reason"))
			return
		}
	}

	result, err := s.reconcileSvc.CorrectUserBalance(c.Request.Context(), c.Param("userId"), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ValidateAll(c *gin.Context) {
	batch, err := s.reconcileSvc.ValidateAll(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) AuditReport(c *gin.Context) {
	filter, err := parseReportFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.ledgerRepo.Report(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// parseReportFilter reads the startDate/endDate/source report window.
// Dates accept YYYY-MM-DD or RFC3339; endDate is inclusive through the
// end of its day.
func parseReportFilter(c *gin.Context) (ledgerdomain.Filter, error) {
	var filter ledgerdomain.Filter

	if raw := strings.TrimSpace(c.Query("startDate")); raw != "" {
		start, _, err := parseReportDate(raw)
		if err != nil {
			return filter, newValidationError("startDate", "invalid_date", "startDate must be YYYY-MM-DD or RFC3339")
		}
		filter.Since = &start
	}
	if raw := strings.TrimSpace(c.Query("endDate")); raw != "" {
		end, dateOnly, err := parseReportDate(raw)
		if err != nil {
			return filter, newValidationError("endDate", "invalid_date", "endDate must be YYYY-MM-DD or RFC3339")
		}
		if dateOnly {
			end = end.Add(24 * time.Hour)
		}
		filter.Until = &end
	}
	if raw := strings.TrimSpace(c.Query("source")); raw != "" {
		filter.Sources = strings.Split(raw, ",")
	}

	return filter, nil
}

func parseReportDate(raw string) (parsed time.Time, dateOnly bool, err error) {
	if parsed, err = time.Parse("2006-01-02", raw); err == nil {
		return parsed, true, nil
	}
	parsed, err = time.Parse(time.RFC3339, raw)
	return parsed, false, err
}

func (s *Server) AuditDuplicates(c *gin.Context) {
	groups, err := s.ledgerRepo.DuplicateGroups(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"duplicates": groups})
}

func (s *Server) UserBreakdown(c *gin.Context) {
	userID := c.Param("userId")
	if _, err := s.ledgerRepo.GetUser(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	bySource, err := s.ledgerRepo.SumBySource(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	total, err := s.ledgerRepo.AggregateSum(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"total":     total,
		"by_source": bySource,
	})
}

func (s *Server) AllUsersBreakdown(c *gin.Context) {
	ctx := c.Request.Context()

	type userBreakdown struct {
		UserID   string                   `json:"user_id"`
		Total    int64                    `json:"total"`
		BySource []ledgerdomain.SourceSum `json:"by_source"`
	}

	var breakdowns []userBreakdown
	for offset := 0; ; offset += 200 {
		userIDs, err := s.ledgerRepo.ListUserIDs(ctx, offset, 200)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if len(userIDs) == 0 {
			break
		}
		for _, userID := range userIDs {
			bySource, err := s.ledgerRepo.SumBySource(ctx, userID)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			total, err := s.ledgerRepo.AggregateSum(ctx, userID)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			breakdowns = append(breakdowns, userBreakdown{
				UserID:   userID,
				Total:    total,
				BySource: bySource,
			})
		}
		if len(userIDs) < 200 {
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{"users": breakdowns})
}

func (s *Server) DetailedLogs(c *gin.Context) {
	userID := c.Param("userId")
	if _, err := s.ledgerRepo.GetUser(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	filter, err := parseLedgerFilter(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.ledgerRepo.FindByUser(c.Request.Context(), userID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	stats, err := s.ledgerRepo.StatsByUser(c.Request.Context(), userID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"total":   stats.Count,
		"stats":   stats,
		"entries": entries,
	})
}

func parseLedgerFilter(c *gin.Context) (ledgerdomain.Filter, error) {
	filter := ledgerdomain.Filter{Limit: 100}

	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			return filter, newValidationError("limit", "invalid_limit", "limit must be 1..1000")
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, newValidationError("offset", "invalid_offset", "offset must be >= 0")
		}
		filter.Offset = offset
	}
	if raw := strings.TrimSpace(c.Query("source")); raw != "" {
		filter.Sources = strings.Split(raw, ",")
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, ledgerdomain.EntryStatus(status))
		}
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, newValidationError("since", "invalid_time", "since must be RFC3339")
		}
		filter.Since = &since
	}
	if raw := strings.TrimSpace(c.Query("until")); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, newValidationError("until", "invalid_time", "until must be RFC3339")
		}
		filter.Until = &until
	}
	if raw := strings.TrimSpace(c.Query("minAmount")); raw != "" {
		min, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, newValidationError("minAmount", "invalid_amount", "minAmount must be an integer")
		}
		filter.MinAmount = &min
	}
	if raw := strings.TrimSpace(c.Query("maxAmount")); raw != "" {
		max, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, newValidationError("maxAmount", "invalid_amount", "maxAmount must be an integer")
		}
		filter.MaxAmount = &max
	}

	return filter, nil
}
