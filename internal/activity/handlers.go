package activity

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/atomex-api/internal/auth"
	"github.com/ksred/atomex-api/internal/types"
	"github.com/ksred/atomex-api/pkg/response"
	"gorm.io/gorm"
)

// GinHandlers contains HTTP handlers for the audit trail
type GinHandlers struct {
	service *Service
	policy  *auth.PolicyStore
	gorm    *gorm.DB
}

func NewGinHandlers(service *Service, policy *auth.PolicyStore, gormDB *gorm.DB) *GinHandlers {
	return &GinHandlers{service: service, policy: policy, gorm: gormDB}
}

// ListActivityHandler handles GET requests for the audit trail, admin only.
// Records are appended under the admin's namespace.
func (h *GinHandlers) ListActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		policy, err := h.policy.Load(h.gorm)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if c.GetString("clientID") != policy.Admin {
			response.Handle(c, nil, fmt.Errorf("only the admin may read the audit trail: %w", types.ErrUnauthorized))
			return
		}

		kind := c.DefaultQuery("kind", KindFill)
		if kind != KindFill && kind != KindCancel {
			response.BadRequest(c, "kind must be fill or cancel")
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
		if pageSize <= 0 {
			pageSize = 50
		}

		records, total, err := h.service.Paginate(policy.Admin, kind, page, pageSize)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"activity_records": records, "total": total})
	}
}
