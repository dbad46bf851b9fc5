package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	balancedomain "github.com/smallbiznis/unitledger/internal/balance/domain"
)

func (s *Server) checkBalance(c *gin.Context) {
	var req balancedomain.CheckBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.balanceSvc.CheckBalance(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) debit(c *gin.Context) {
	var req balancedomain.DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Ref = ensureRef(req.Ref)

	resp, err := s.balanceSvc.Debit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "billing.debit", req.Sub, map[string]any{
		"units": req.Units,
		"ref":   req.Ref,
		"tx_id": resp.EntryID.String(),
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) credit(c *gin.Context) {
	var req balancedomain.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Ref = ensureRef(req.Ref)
	if strings.TrimSpace(req.SourceService) == "" {
		req.SourceService = sourceService(c)
	}

	resp, err := s.balanceSvc.Credit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "billing.credit", req.Sub, map[string]any{
		"units": req.Units,
		"ref":   req.Ref,
		"tx_id": resp.EntryID.String(),
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getBalance(c *gin.Context) {
	sub := strings.TrimSpace(c.Query("sub"))

	balance, err := s.balanceSvc.GetBalance(c.Request.Context(), sub)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	plan, err := s.subscriptionSvc.GetCurrentPlan(c.Request.Context(), sub)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sub": sub, "balance": balance, "plan": plan})
}

// ensureRef supplies a reference for callers that do not send one. Such
// calls are not replay protected across retries.
func ensureRef(ref string) string {
	if strings.TrimSpace(ref) != "" {
		return ref
	}
	return "action-" + uuid.NewString()
}

func (s *Server) audit(c *gin.Context, action, sub string, detail map[string]any) {
	if s.auditRec == nil {
		return
	}
	actor := sourceService(c)
	if actor == "" {
		actor = "internal"
	}
	s.auditRec.Record(c.Request.Context(), actor, action, sub, detail)
}
