package auth

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/atomex-api/pkg/response"
)

// PolicyHandlers contains HTTP handlers for the authorization policy
type PolicyHandlers struct {
	store        *PolicyStore
	loyaltyToken string
}

func NewPolicyHandlers(store *PolicyStore, loyaltyToken string) *PolicyHandlers {
	return &PolicyHandlers{store: store, loyaltyToken: loyaltyToken}
}

// GetConfigHandler handles GET requests for the public configuration
func (h *PolicyHandlers) GetConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policy, err := h.store.Load(h.store.db)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"admin":                     policy.Admin,
			"addresses_allowed_to_fill": policy.FillerList(),
			"loyalty_token":             h.loyaltyToken,
			"version":                   policy.Version,
		})
	}
}

type updateFillersRequest struct {
	Fillers []string `json:"fillers" binding:"required"`
}

// UpdateFillersHandler handles PUT requests replacing the filler allow-list
func (h *PolicyHandlers) UpdateFillersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateFillersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		policy, err := h.store.UpdateFillers(c.GetString("clientID"), req.Fillers)
		response.Handle(c, policy, err)
	}
}
