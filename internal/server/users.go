package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	provisioningdomain "github.com/smallbiznis/unitledger/internal/provisioning/domain"
)

func (s *Server) initUser(c *gin.Context) {
	var req provisioningdomain.InitUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.provisioningSvc.InitUser(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if resp.Created {
		s.audit(c, "billing.user_init", req.Sub, map[string]any{
			"plan_code": resp.PlanCode,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getUserStatus(c *gin.Context) {
	sub := strings.TrimSpace(c.Query("sub"))

	status, err := s.provisioningSvc.GetUserStatus(c.Request.Context(), sub)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
