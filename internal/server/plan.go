package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/unitledger/internal/subscription/domain"
)

func (s *Server) applyPlan(c *gin.Context) {
	var req subscriptiondomain.ApplyPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Ref = ensureRef(req.Ref)

	resp, err := s.subscriptionSvc.ApplyPlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, "billing.plan_apply", req.Sub, map[string]any{
		"plan_code": req.PlanCode,
		"ref":       req.Ref,
	})
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getPlan(c *gin.Context) {
	sub := strings.TrimSpace(c.Query("sub"))

	plan, err := s.subscriptionSvc.GetCurrentPlan(c.Request.Context(), sub)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

func (s *Server) listPlans(c *gin.Context) {
	plans, err := s.tariffSvc.ListActivePlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *Server) getSubscription(c *gin.Context) {
	sub := strings.TrimSpace(c.Query("sub"))

	details, err := s.subscriptionSvc.GetSubscription(c.Request.Context(), sub)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, details)
}
