package ledger

import (
	"context"
	"fmt"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/ksred/atomex-api/internal/auth"
	"github.com/ksred/atomex-api/internal/transfer"
	"github.com/ksred/atomex-api/internal/types"
	"github.com/ksred/atomex-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service tracks the aggregate locked balance per registered asset.
type Service struct {
	db        *Database
	gorm      *gorm.DB
	policy    *auth.PolicyStore
	transfers *transfer.Service
	client    transfer.Client
	self      string
}

func NewService(gormDB *gorm.DB, policy *auth.PolicyStore, transfers *transfer.Service, client transfer.Client, self string) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		gorm:      gormDB,
		policy:    policy,
		transfers: transfers,
		client:    client,
		self:      self,
	}
}

// RequireAsset returns the registered asset or an unknown-asset error.
func (s *Service) RequireAsset(tx *gorm.DB, assetID string) (*Asset, error) {
	asset, err := s.db.GetAsset(tx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("asset %s is not registered: %w", assetID, types.ErrInvalidInput)
	}
	return asset, nil
}

// Lock increases the aggregate locked balance for the asset. Amounts are
// capped at the signed 64-bit range the sqlite driver can persist.
func (s *Service) Lock(tx *gorm.DB, assetID string, amount uint64) error {
	asset, err := s.RequireAsset(tx, assetID)
	if err != nil {
		return err
	}
	if amount > math.MaxInt64 || asset.SumLocked > math.MaxInt64-amount {
		return fmt.Errorf("locked balance overflow for %s: %w", assetID, types.ErrArithmetic)
	}
	asset.SumLocked += amount
	return s.db.UpdateAsset(tx, asset)
}

// Unlock decreases the aggregate locked balance. An underflow means an
// upstream consistency bug, never a user error.
func (s *Service) Unlock(tx *gorm.DB, assetID string, amount uint64) error {
	asset, err := s.RequireAsset(tx, assetID)
	if err != nil {
		return err
	}
	if amount > asset.SumLocked {
		return fmt.Errorf("unlock of %d exceeds locked balance %d for %s: %w",
			amount, asset.SumLocked, assetID, types.ErrArithmetic)
	}
	asset.SumLocked -= amount
	return s.db.UpdateAsset(tx, asset)
}

// SweepExcess returns the sweepable surplus over the locked balance, zero
// when the custodial balance does not exceed it.
func (s *Service) SweepExcess(tx *gorm.DB, assetID string, actualBalance uint64) (uint64, error) {
	asset, err := s.RequireAsset(tx, assetID)
	if err != nil {
		return 0, err
	}
	if actualBalance <= asset.SumLocked {
		return 0, nil
	}
	return actualBalance - asset.SumLocked, nil
}

// RegisterAsset registers a token, admin only. Re-registering is a no-op so
// the operation stays idempotent.
func (s *Service) RegisterAsset(caller, assetID, contractRef string) (*Asset, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return nil, err
	}
	if caller != policy.Admin {
		return nil, fmt.Errorf("only the admin may register assets: %w", types.ErrUnauthorized)
	}

	var out *Asset
	err = s.gorm.Transaction(func(tx *gorm.DB) error {
		existing, err := s.db.GetAsset(tx, assetID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		asset := &Asset{AssetID: assetID, ContractRef: contractRef}
		if err := s.db.CreateAsset(tx, asset); err != nil {
			return err
		}
		log.Info().Str("asset_id", assetID).Msg("registered asset")
		out = asset
		return nil
	})
	return out, err
}

// RescueExcess emits a transfer of the custodial surplus over the locked
// balance to the admin. Locked user funds are never touched.
func (s *Service) RescueExcess(ctx context.Context, caller, assetID, loyaltyProof string) (uint64, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return 0, err
	}
	if caller != policy.Admin {
		return 0, fmt.Errorf("only the admin may rescue excess funds: %w", types.ErrUnauthorized)
	}

	actual, err := s.client.BalanceOf(ctx, assetID, s.self, loyaltyProof)
	if err != nil {
		return 0, err
	}

	var swept uint64
	err = s.gorm.Transaction(func(tx *gorm.DB) error {
		swept, err = s.SweepExcess(tx, assetID, actual)
		if err != nil {
			return err
		}
		if swept == 0 {
			return nil
		}
		return s.transfers.Enqueue(tx, &transfer.Instruction{
			Token:     assetID,
			Recipient: policy.Admin,
			Amount:    swept,
		})
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("asset_id", assetID).Uint64("amount", swept).Msg("rescued excess balance")
	return swept, nil
}

// GinHandlers contains HTTP handlers for asset administration
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type registerAssetRequest struct {
	AssetID     string `json:"asset_id" binding:"required"`
	ContractRef string `json:"contract_ref"`
}

// RegisterAssetHandler handles POST requests to register a token
func (h *GinHandlers) RegisterAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerAssetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		asset, err := h.service.RegisterAsset(c.GetString("clientID"), req.AssetID, req.ContractRef)
		response.Handle(c, asset, err)
	}
}

type rescueRequest struct {
	LoyaltyProof string `json:"loyalty_proof" binding:"required"`
}

// RescueExcessHandler handles POST requests to sweep stray funds
func (h *GinHandlers) RescueExcessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rescueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		swept, err := h.service.RescueExcess(c.Request.Context(), c.GetString("clientID"), c.Param("asset_id"), req.LoyaltyProof)
		response.Handle(c, gin.H{"swept": swept}, err)
	}
}
