package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	obscontext "github.com/opencafe/pointsd/internal/observability/context"
	pointsdomain "github.com/opencafe/pointsd/internal/points/domain"
)

type xpMutationRequest struct {
	UserID           string         `json:"user_id"`
	Amount           int64          `json:"amount"`
	Source           string         `json:"source"`
	SourceIdentifier string         `json:"source_identifier"`
	Reason           string         `json:"reason"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) AddXP(c *gin.Context) {
	var req xpMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}
	if req.Source == "" {
		req.Source = ledgerdomain.SourceManual
	}

	result, err := s.pointsSvc.AddPoints(c.Request.Context(), pointsdomain.AddPointsRequest{
		UserID:           req.UserID,
		Amount:           req.Amount,
		Source:           req.Source,
		SourceIdentifier: req.SourceIdentifier,
		Reason:           req.Reason,
		Metadata:         s.withActorMetadata(c, req.Metadata),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) RemoveXP(c *gin.Context) {
	var req xpMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}
	if req.Source == "" {
		req.Source = ledgerdomain.SourceManual
	}

	result, err := s.pointsSvc.AddPoints(c.Request.Context(), pointsdomain.AddPointsRequest{
		UserID:           req.UserID,
		Amount:           -req.Amount,
		Source:           req.Source,
		SourceIdentifier: req.SourceIdentifier,
		Reason:           req.Reason,
		Metadata:         s.withActorMetadata(c, req.Metadata),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type awardRequest struct {
	UserID           string         `json:"user_id"`
	Action           string         `json:"action"`
	SourceIdentifier string         `json:"source_identifier"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) AwardAction(c *gin.Context) {
	var req awardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		AbortWithError(c, newValidationError("action", "required", "action is required"))
		return
	}

	result, err := s.pointsSvc.Award(
		c.Request.Context(),
		req.UserID,
		strings.TrimSpace(req.Action),
		req.SourceIdentifier,
		s.withActorMetadata(c, req.Metadata),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) GetUserPoints(c *gin.Context) {
	standing, err := s.pointsSvc.GetUserPoints(c.Request.Context(), c.Param("userId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, standing)
}

type createUserRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		AbortWithError(c, newValidationError("id", "required", "id is required"))
		return
	}

	res := s.db.WithContext(c.Request.Context()).Exec(
		`INSERT INTO users (id, display_name) VALUES (?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		req.ID,
		strings.TrimSpace(req.DisplayName),
	)
	if res.Error != nil {
		AbortWithError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (s *Server) ReverseEntry(c *gin.Context) {
	entryID, err := snowflake.ParseString(strings.TrimSpace(c.Param("auditId")))
	if err != nil {
		AbortWithError(c, newValidationError("auditId", "invalid_id", "invalid entry id"))
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.pointsSvc.ReverseTransaction(c.Request.Context(), entryID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// withActorMetadata stamps the acting token into entry metadata so the
// ledger records who triggered a manual mutation.
func (s *Server) withActorMetadata(c *gin.Context, metadata map[string]any) map[string]any {
	_, name := obscontext.ActorFromGin(c)
	if name == "" {
		return metadata
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, taken := metadata["actor"]; !taken {
		metadata["actor"] = name
	}
	return metadata
}
