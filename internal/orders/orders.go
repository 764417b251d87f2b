package orders

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/atomex-api/internal/activity"
	"github.com/ksred/atomex-api/internal/auth"
	"github.com/ksred/atomex-api/internal/chain"
	"github.com/ksred/atomex-api/internal/ledger"
	"github.com/ksred/atomex-api/internal/transfer"
	"github.com/ksred/atomex-api/internal/types"
	"github.com/ksred/atomex-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service is the order ledger: it creates, mutates, cancels, and settles
// resting limit orders. Every mutating operation runs in one transaction
// together with the transfer instructions it emits.
type Service struct {
	db           *Database
	gorm         *gorm.DB
	ledger       *ledger.Service
	activity     *activity.Service
	transfers    *transfer.Service
	policy       *auth.PolicyStore
	client       transfer.Client
	loyaltyToken string
}

func NewService(gormDB *gorm.DB, ledgerSvc *ledger.Service, activitySvc *activity.Service,
	transfers *transfer.Service, policy *auth.PolicyStore, client transfer.Client, loyaltyToken string) *Service {
	return &Service{
		db:           NewDatabase(gormDB),
		gorm:         gormDB,
		ledger:       ledgerSvc,
		activity:     activitySvc,
		transfers:    transfers,
		policy:       policy,
		client:       client,
		loyaltyToken: loyaltyToken,
	}
}

// CreateOrderRequest is the payload carried by the inbound transfer that
// funds the order: FromToken/FromAmount describe the received funds.
type CreateOrderRequest struct {
	Creator           string
	FromToken         string
	FromAmount        uint64
	ToToken           string
	ToAmountRequested uint64
	LoyaltyProof      string
}

// CreateOrder validates the target asset, computes the fee from the
// creator's loyalty balance, locks the input, and stores the order under the
// next sequence number of both namespaces. Once inputs are valid it cannot
// partially fail.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderView, error) {
	if req.FromAmount == 0 || req.ToAmountRequested == 0 {
		return nil, fmt.Errorf("order amounts must be greater than zero: %w", types.ErrInvalidInput)
	}
	// Storage caps amounts at the signed 64-bit range.
	if req.FromAmount > math.MaxInt64 || req.ToAmountRequested > math.MaxInt64 {
		return nil, fmt.Errorf("order amounts exceed the supported range: %w", types.ErrInvalidInput)
	}

	loyaltyBalance, err := s.client.BalanceOf(ctx, s.loyaltyToken, req.Creator, req.LoyaltyProof)
	if err != nil {
		return nil, err
	}

	var view *OrderView
	err = s.gorm.Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.RequireAsset(tx, req.ToToken); err != nil {
			return err
		}

		fee, err := calculateFee(loyaltyBalance, req.ToAmountRequested)
		if err != nil {
			return err
		}

		height, err := chain.Current(tx)
		if err != nil {
			return err
		}

		creatorPos, bookPos, err := s.db.NextPositions(tx, req.Creator)
		if err != nil {
			return err
		}

		order := &Order{
			Creator:         req.Creator,
			CreatorPosition: creatorPos,
			BookPosition:    bookPos,
			FromToken:       req.FromToken,
			ToToken:         req.ToToken,
			FromAmount:      req.FromAmount,
			NetToAmount:     req.ToAmountRequested - fee,
			Fee:             fee,
			CreatedAtHeight: height,
		}
		if err := s.db.CreateOrder(tx, order); err != nil {
			return err
		}

		if err := s.ledger.Lock(tx, req.FromToken, req.FromAmount); err != nil {
			return err
		}

		view = order.CreatorView()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("creator", req.Creator).
		Uint64("position", view.Position).
		Str("from_token", req.FromToken).
		Str("to_token", req.ToToken).
		Msg("order created")
	return view, nil
}

// SetExecutionFee escrows a flat fee on an order. It can be set once, only
// while the order is untouched, and only at the creation height: the escrow
// is posted atomically with, or immediately after, creation.
func (s *Service) SetExecutionFee(creator string, position, escrowAmount uint64, escrowToken string) (*OrderView, error) {
	if escrowAmount == 0 {
		return nil, fmt.Errorf("escrow amount must be greater than zero: %w", types.ErrInvalidInput)
	}

	var view *OrderView
	err := s.gorm.Transaction(func(tx *gorm.DB) error {
		order, err := s.db.GetByCreatorPosition(tx, creator, position)
		if err != nil {
			return err
		}
		if order.ExecutionFeeSet {
			return fmt.Errorf("execution fee already set: %w", types.ErrInvalidState)
		}
		if order.Cancelled {
			return fmt.Errorf("order already cancelled: %w", types.ErrInvalidState)
		}
		if order.FullyFilled() {
			return fmt.Errorf("order already filled: %w", types.ErrInvalidState)
		}

		height, err := chain.Current(tx)
		if err != nil {
			return err
		}
		if height != order.CreatedAtHeight {
			return fmt.Errorf("execution fee must be set in the creation period: %w", types.ErrInvalidState)
		}

		order.ExecutionFee = escrowAmount
		order.ExecutionFeeSet = true
		order.EscrowToken = escrowToken
		if err := s.db.UpdateOrder(tx, order); err != nil {
			return err
		}
		view = order.CreatorView()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// FillOrder settles incoming liquidity against the order at the given book
// position. The input released to the filler is proportional to the output
// delivered, except the completing fill which releases the exact remainder.
// routeInitiator is set when the fill is one hop of an in-flight route; the
// first-fill escrow is paid to them instead of the filler.
func (s *Service) FillOrder(caller string, position, incomingAmount uint64, fillingToken, routeInitiator string) (uint64, *OrderView, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return 0, nil, err
	}
	if !policy.AllowedToFill(caller) {
		return 0, nil, fmt.Errorf("caller %s is not allowed to fill: %w", caller, types.ErrUnauthorized)
	}
	if incomingAmount == 0 {
		return 0, nil, fmt.Errorf("fill amount must be greater than zero: %w", types.ErrInvalidInput)
	}

	var fromFilled uint64
	var view *OrderView
	err = s.gorm.Transaction(func(tx *gorm.DB) error {
		order, err := s.db.GetByBookPosition(tx, position)
		if err != nil {
			return err
		}
		if fillingToken != order.ToToken {
			return fmt.Errorf("filling token does not match the order's to token: %w", types.ErrInvalidInput)
		}
		if order.Cancelled {
			return fmt.Errorf("order already cancelled: %w", types.ErrInvalidState)
		}
		if incomingAmount > order.Remaining() {
			return fmt.Errorf("fill exceeds the unfilled amount: %w", types.ErrInvalidInput)
		}

		firstFill := order.NetToAmountFilled == 0

		order.NetToAmountFilled += incomingAmount
		if order.NetToAmountFilled == order.NetToAmount {
			// Completing fill: release the exact remainder so no dust
			// survives intermediate rounding.
			fromFilled = order.FromAmount - order.FromAmountFilled
		} else {
			fromFilled, err = proportionalRelease(order.FromAmount, incomingAmount, order.NetToAmount)
			if err != nil {
				return err
			}
		}
		order.FromAmountFilled += fromFilled

		if err := s.db.UpdateOrder(tx, order); err != nil {
			return err
		}
		if err := s.ledger.Unlock(tx, order.FromToken, fromFilled); err != nil {
			return err
		}

		if err := s.transfers.Enqueue(tx, &transfer.Instruction{
			Token:     order.FromToken,
			Recipient: caller,
			Amount:    fromFilled,
		}); err != nil {
			return err
		}
		if err := s.transfers.Enqueue(tx, &transfer.Instruction{
			Token:     order.ToToken,
			Recipient: order.Creator,
			Amount:    incomingAmount,
		}); err != nil {
			return err
		}

		if firstFill && order.ExecutionFeeSet {
			recipient := caller
			if routeInitiator != "" {
				recipient = routeInitiator
			}
			if err := s.transfers.Enqueue(tx, &transfer.Instruction{
				Token:     order.EscrowToken,
				Recipient: recipient,
				Amount:    order.ExecutionFee,
			}); err != nil {
				return err
			}
		}

		height, err := chain.Current(tx)
		if err != nil {
			return err
		}
		resultFrom := order.FromAmountFilled
		resultNetTo := order.NetToAmountFilled
		if err := s.activity.Append(tx, &activity.Record{
			Actor:             policy.Admin,
			Kind:              activity.KindFill,
			OrderPosition:     order.BookPosition,
			ResultFromFilled:  &resultFrom,
			ResultNetToFilled: &resultNetTo,
			Height:            height,
		}); err != nil {
			return err
		}

		view = order.BookView()
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	log.Info().
		Str("filler", caller).
		Uint64("position", position).
		Uint64("incoming", incomingAmount).
		Uint64("released", fromFilled).
		Msg("order filled")
	return fromFilled, view, nil
}

// CancelOrder refunds the unfilled input to the creator and closes the
// order. The execution fee escrow is refunded only when the order was never
// partially filled.
func (s *Service) CancelOrder(creator string, position uint64, expectedFromToken string) (*OrderView, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return nil, err
	}

	var view *OrderView
	err = s.gorm.Transaction(func(tx *gorm.DB) error {
		order, err := s.db.GetByCreatorPosition(tx, creator, position)
		if err != nil {
			return err
		}
		if expectedFromToken != order.FromToken {
			return fmt.Errorf("token used to cancel does not match the order's from token: %w", types.ErrInvalidInput)
		}
		if order.Cancelled {
			return fmt.Errorf("order already cancelled: %w", types.ErrInvalidState)
		}
		if order.FullyFilled() {
			return fmt.Errorf("order already filled: %w", types.ErrInvalidState)
		}

		unfilled := order.FromAmount - order.FromAmountFilled
		// Untouched means no output was ever delivered. A first fill can
		// floor its released input to zero, so FromAmountFilled == 0 does
		// not imply the escrow is still unpaid.
		untouched := order.NetToAmountFilled == 0

		order.Cancelled = true
		if err := s.db.UpdateOrder(tx, order); err != nil {
			return err
		}
		if err := s.ledger.Unlock(tx, order.FromToken, unfilled); err != nil {
			return err
		}

		if err := s.transfers.Enqueue(tx, &transfer.Instruction{
			Token:     order.FromToken,
			Recipient: order.Creator,
			Amount:    unfilled,
		}); err != nil {
			return err
		}
		if untouched && order.ExecutionFeeSet {
			if err := s.transfers.Enqueue(tx, &transfer.Instruction{
				Token:     order.EscrowToken,
				Recipient: order.Creator,
				Amount:    order.ExecutionFee,
			}); err != nil {
				return err
			}
		}

		height, err := chain.Current(tx)
		if err != nil {
			return err
		}
		if err := s.activity.Append(tx, &activity.Record{
			Actor:         policy.Admin,
			Kind:          activity.KindCancel,
			OrderPosition: order.BookPosition,
			Height:        height,
		}); err != nil {
			return err
		}

		view = order.CreatorView()
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("creator", creator).Uint64("position", position).Msg("order cancelled")
	return view, nil
}

// RemainingCapacity returns the unfilled output of the order at the book
// position, zero when the order is cancelled. Used by the route executor to
// clamp a hop's outgoing amount.
func (s *Service) RemainingCapacity(tx *gorm.DB, position uint64) (uint64, error) {
	order, err := s.db.GetByBookPosition(tx, position)
	if err != nil {
		return 0, err
	}
	if order.Cancelled {
		return 0, nil
	}
	return order.Remaining(), nil
}

// ListOrders pages an actor's namespace backward from the highest sequence.
// The operator and admin see the book namespace; everyone else their own.
func (s *Service) ListOrders(actor string, page, pageSize int) ([]*OrderView, int64, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return nil, 0, err
	}
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	book := actor == policy.Self || actor == policy.Admin
	var rows []Order
	var total int64
	if book {
		rows, total, err = s.db.PaginateBook(page, pageSize)
	} else {
		rows, total, err = s.db.PaginateCreator(actor, page, pageSize)
	}
	if err != nil {
		return nil, 0, err
	}

	views := make([]*OrderView, 0, len(rows))
	for i := range rows {
		if book {
			views = append(views, rows[i].BookView())
		} else {
			views = append(views, rows[i].CreatorView())
		}
	}
	return views, total, nil
}

// OrdersByPositions resolves specific positions in the actor's namespace.
func (s *Service) OrdersByPositions(actor string, positions []uint64) ([]*OrderView, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return nil, err
	}
	book := actor == policy.Self || actor == policy.Admin

	views := make([]*OrderView, 0, len(positions))
	for _, pos := range positions {
		var order *Order
		if book {
			order, err = s.db.GetByBookPosition(s.gorm, pos)
		} else {
			order, err = s.db.GetByCreatorPosition(s.gorm, actor, pos)
		}
		if err != nil {
			return nil, err
		}
		if book {
			views = append(views, order.BookView())
		} else {
			views = append(views, order.CreatorView())
		}
	}
	return views, nil
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type createOrderRequest struct {
	FromToken         string `json:"from_token" binding:"required"`
	FromAmount        uint64 `json:"from_amount" binding:"required"`
	ToToken           string `json:"to_token" binding:"required"`
	ToAmountRequested uint64 `json:"to_amount_requested" binding:"required"`
	LoyaltyProof      string `json:"loyalty_proof" binding:"required"`
}

// CreateOrderHandler handles POST requests to create orders. The caller is
// the creator; the from fields describe the funds received with the call.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		view, err := h.service.CreateOrder(c.Request.Context(), CreateOrderRequest{
			Creator:           c.GetString("clientID"),
			FromToken:         req.FromToken,
			FromAmount:        req.FromAmount,
			ToToken:           req.ToToken,
			ToAmountRequested: req.ToAmountRequested,
			LoyaltyProof:      req.LoyaltyProof,
		})
		response.Handle(c, view, err)
	}
}

type setExecutionFeeRequest struct {
	EscrowAmount uint64 `json:"escrow_amount" binding:"required"`
	EscrowToken  string `json:"escrow_token" binding:"required"`
}

// SetExecutionFeeHandler handles POST requests to escrow an execution fee
func (h *GinHandlers) SetExecutionFeeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		position, err := strconv.ParseUint(c.Param("position"), 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid position")
			return
		}

		var req setExecutionFeeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		view, err := h.service.SetExecutionFee(c.GetString("clientID"), position, req.EscrowAmount, req.EscrowToken)
		response.Handle(c, view, err)
	}
}

type cancelOrderRequest struct {
	ExpectedFromToken string `json:"expected_from_token" binding:"required"`
}

// CancelOrderHandler handles POST requests to cancel an order
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		position, err := strconv.ParseUint(c.Param("position"), 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid position")
			return
		}

		var req cancelOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		view, err := h.service.CancelOrder(c.GetString("clientID"), position, req.ExpectedFromToken)
		response.Handle(c, view, err)
	}
}

type fillOrderRequest struct {
	IncomingAmount uint64 `json:"incoming_amount" binding:"required"`
	FillingToken   string `json:"filling_token" binding:"required"`
	RouteInitiator string `json:"route_initiator"`
}

// FillOrderHandler handles POST requests from allow-listed fillers
func (h *GinHandlers) FillOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		position, err := strconv.ParseUint(c.Param("position"), 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid position")
			return
		}

		var req fillOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		fromFilled, view, err := h.service.FillOrder(c.GetString("clientID"), position, req.IncomingAmount, req.FillingToken, req.RouteInitiator)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"from_filled_amount": fromFilled, "order": view})
	}
}

// ListOrdersHandler handles GET requests for paginated orders
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

		views, total, err := h.service.ListOrders(c.GetString("clientID"), page, pageSize)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"orders": views, "total": total})
	}
}

// ListOrdersByPositionHandler handles GET requests for specific positions
func (h *GinHandlers) ListOrdersByPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("positions")
		if raw == "" {
			response.BadRequest(c, "positions query parameter is required")
			return
		}

		var positions []uint64
		for _, part := range strings.Split(raw, ",") {
			pos, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				response.BadRequest(c, "invalid position list")
				return
			}
			positions = append(positions, pos)
		}

		views, err := h.service.OrdersByPositions(c.GetString("clientID"), positions)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"orders": views})
	}
}
