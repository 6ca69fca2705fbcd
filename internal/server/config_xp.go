package server

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

type xpActionView struct {
	Action string `json:"action"`
	Source string `json:"source"`
	Amount int64  `json:"amount"`
}

// GetXPConfig returns the effective action catalog, defaults merged
// with any stored overrides.
func (s *Server) GetXPConfig(c *gin.Context) {
	catalog, err := s.catalogSvc.Catalog(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	actions := make([]xpActionView, 0, len(catalog))
	for _, action := range catalog {
		actions = append(actions, xpActionView{
			Action: action.Name,
			Source: action.Source,
			Amount: action.Amount,
		})
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Action < actions[j].Action })

	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

type setXPAmountRequest struct {
	Amount int64 `json:"amount"`
}

// SetXPAmount overrides the XP value of a single catalog action.
func (s *Server) SetXPAmount(c *gin.Context) {
	action := c.Param("action")

	var req setXPAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount <= 0 {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be positive"))
		return
	}

	if err := s.catalogSvc.SetAmount(c.Request.Context(), action, req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	updated, err := s.catalogSvc.Lookup(c.Request.Context(), action)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, xpActionView{
		Action: updated.Name,
		Source: updated.Source,
		Amount: updated.Amount,
	})
}
