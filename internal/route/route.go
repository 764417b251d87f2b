package route

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/atomex-api/internal/auth"
	"github.com/ksred/atomex-api/internal/orders"
	"github.com/ksred/atomex-api/internal/transfer"
	"github.com/ksred/atomex-api/internal/types"
	"github.com/ksred/atomex-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service orchestrates multi-hop atomic routes: a borrowed amount is chained
// through a queue of swap or fill hops across separate invocations, and the
// borrow must be repaid before the scheduled finalize check closes the
// route. State is persisted between callbacks; nothing blocks in process.
type Service struct {
	db        *Database
	gorm      *gorm.DB
	orders    *orders.Service
	transfers *transfer.Service
	policy    *auth.PolicyStore
	self      string
}

func NewService(gormDB *gorm.DB, ordersSvc *orders.Service, transfers *transfer.Service,
	policy *auth.PolicyStore, self string) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		gorm:      gormDB,
		orders:    ordersSvc,
		transfers: transfers,
		policy:    policy,
		self:      self,
	}
}

// Begin starts a route. The first hop is dispatched immediately with the
// borrowed amount; a self-addressed finalize instruction is scheduled to run
// after the whole chain has unwound.
func (s *Service) Begin(caller string, borrowAmount uint64, hops []Hop, minimumAcceptableAmount *uint64) (*Route, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return nil, err
	}
	if !policy.AllowedToFill(caller) {
		return nil, fmt.Errorf("caller %s is not allowed to begin routes: %w", caller, types.ErrUnauthorized)
	}
	if len(hops) < 2 {
		return nil, fmt.Errorf("route must be at least 2 hops: %w", types.ErrInvalidInput)
	}
	if borrowAmount == 0 {
		return nil, fmt.Errorf("borrow amount must be greater than zero: %w", types.ErrInvalidInput)
	}

	first := hops[0]
	route := &Route{
		RouteID:                 uuid.New().String(),
		Status:                  StatusAwaitingHop,
		BorrowToken:             first.FromToken,
		BorrowAmount:            borrowAmount,
		Initiator:               caller,
		MinimumAcceptableAmount: minimumAcceptableAmount,
		CurrentHop:              &first,
		RemainingHops:           hops[1:],
	}

	err = s.gorm.Transaction(func(tx *gorm.DB) error {
		if err := s.db.CreateRoute(tx, route); err != nil {
			return err
		}

		payload, err := s.venuePayload(route.RouteID, first)
		if err != nil {
			return err
		}
		if err := s.transfers.Enqueue(tx, &transfer.Instruction{
			Token:     first.FromToken,
			Recipient: first.TradingVenue,
			Amount:    borrowAmount,
			Payload:   payload,
			RouteID:   route.RouteID,
		}); err != nil {
			return err
		}

		// Scheduled last so it runs after the chain unwinds.
		return s.transfers.Enqueue(tx, &transfer.Instruction{
			Kind:      transfer.KindFinalize,
			Recipient: s.self,
			RouteID:   route.RouteID,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("route_id", route.RouteID).
		Str("initiator", caller).
		Int("hops", len(hops)).
		Uint64("borrow_amount", borrowAmount).
		Msg("route started")
	return route, nil
}

// Advance consumes one venue callback. Mid-route it dequeues the next hop
// and forwards the received funds; on the final leg it checks repayment and
// slippage, paying any surplus to the initiator.
func (s *Service) Advance(caller, routeID, receivedToken string, receivedAmount uint64) (*Route, error) {
	var out *Route
	err := s.gorm.Transaction(func(tx *gorm.DB) error {
		route, err := s.db.GetRoute(tx, routeID)
		if err != nil {
			return err
		}
		if route.CurrentHop == nil {
			return fmt.Errorf("route %s is not expecting a callback: %w", routeID, types.ErrInvalidState)
		}
		if caller != route.CurrentHop.TradingVenue {
			return fmt.Errorf("callback must come from the current hop's venue: %w", types.ErrUnauthorized)
		}

		switch route.Status {
		case StatusAwaitingHop:
			if err := s.advanceHop(tx, route, receivedToken, receivedAmount); err != nil {
				return err
			}
		case StatusAwaitingFinal:
			if err := s.advanceFinal(tx, route, receivedToken, receivedAmount); err != nil {
				return err
			}
		default:
			return fmt.Errorf("route %s is %s: %w", routeID, route.Status, types.ErrInvalidState)
		}

		if err := s.db.UpdateRoute(tx, route); err != nil {
			return err
		}
		out = route
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("route_id", routeID).
		Str("status", out.Status).
		Uint64("received", receivedAmount).
		Msg("route advanced")
	return out, nil
}

// advanceHop dequeues the next hop and forwards the received funds to its
// venue. When the hop targets an on-ledger order with less remaining
// capacity than was received, the outgoing amount is clamped and the
// undeployed remainder refunded to the initiator rather than stranded.
func (s *Service) advanceHop(tx *gorm.DB, route *Route, receivedToken string, receivedAmount uint64) error {
	next := route.RemainingHops[0]
	route.RemainingHops = route.RemainingHops[1:]

	if receivedToken != next.FromToken {
		return fmt.Errorf("received token %s does not match next hop's from token %s: %w",
			receivedToken, next.FromToken, types.ErrInvalidInput)
	}

	outgoing := receivedAmount
	if next.OrderPosition != nil {
		capacity, err := s.orders.RemainingCapacity(tx, *next.OrderPosition)
		if err != nil {
			return err
		}
		if capacity < outgoing {
			outgoing = capacity
		}
	}

	if outgoing < receivedAmount {
		if err := s.transfers.Enqueue(tx, &transfer.Instruction{
			Token:     next.FromToken,
			Recipient: route.Initiator,
			Amount:    receivedAmount - outgoing,
			RouteID:   route.RouteID,
		}); err != nil {
			return err
		}
	}

	payload, err := s.venuePayload(route.RouteID, next)
	if err != nil {
		return err
	}
	if err := s.transfers.Enqueue(tx, &transfer.Instruction{
		Token:     next.FromToken,
		Recipient: next.TradingVenue,
		Amount:    outgoing,
		Payload:   payload,
		RouteID:   route.RouteID,
	}); err != nil {
		return err
	}

	route.CurrentHop = &next
	if len(route.RemainingHops) == 0 {
		route.Status = StatusAwaitingFinal
	}
	return nil
}

// advanceFinal settles the last leg: the borrow must be repaid in full, the
// slippage floor honored, and any surplus goes to the initiator.
func (s *Service) advanceFinal(tx *gorm.DB, route *Route, receivedToken string, receivedAmount uint64) error {
	if receivedToken != route.BorrowToken {
		return fmt.Errorf("final leg must return the borrow token %s: %w", route.BorrowToken, types.ErrInvalidInput)
	}
	if receivedAmount < route.BorrowAmount {
		return fmt.Errorf("route fell short of the borrowed amount: %w", types.ErrInvalidInput)
	}
	if route.MinimumAcceptableAmount != nil && receivedAmount < *route.MinimumAcceptableAmount {
		return fmt.Errorf("route fell short of minimum acceptable amount: %w", types.ErrInvalidInput)
	}

	if receivedAmount > route.BorrowAmount {
		if err := s.transfers.Enqueue(tx, &transfer.Instruction{
			Token:     route.BorrowToken,
			Recipient: route.Initiator,
			Amount:    receivedAmount - route.BorrowAmount,
			RouteID:   route.RouteID,
		}); err != nil {
			return err
		}
	}

	route.CurrentHop = nil
	route.RemainingHops = nil
	route.Status = StatusDraining
	return nil
}

// Finalize closes a route. Only the service's own scheduled call may run it;
// a route that still has hops outstanding is rejected, which aborts the
// enclosing transaction and rolls the whole route back.
func (s *Service) Finalize(caller, routeID string) error {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return err
	}
	if caller != policy.Self {
		return fmt.Errorf("finalize may only be called by the service itself: %w", types.ErrUnauthorized)
	}

	err = s.gorm.Transaction(func(tx *gorm.DB) error {
		route, err := s.db.GetRoute(tx, routeID)
		if err != nil {
			return err
		}
		if route.Status != StatusDraining || route.CurrentHop != nil || len(route.RemainingHops) != 0 {
			return fmt.Errorf("cannot finalize: route %s still contains hops: %w", routeID, types.ErrInvalidState)
		}
		return s.db.DeleteRoute(tx, route)
	})
	if err != nil {
		return err
	}

	log.Info().Str("route_id", routeID).Msg("route finalized")
	return nil
}

// FinalizeRoute implements transfer.Finalizer for the outbox dispatcher.
func (s *Service) FinalizeRoute(self, routeID string) error {
	return s.Finalize(self, routeID)
}

// ListRoutes returns every in-flight route, admin only. A route stuck in a
// non-terminal state shows up here until an operator intervenes.
func (s *Service) ListRoutes(caller string) ([]Route, error) {
	policy, err := s.policy.Load(s.gorm)
	if err != nil {
		return nil, err
	}
	if caller != policy.Admin {
		return nil, fmt.Errorf("only the admin may list routes: %w", types.ErrUnauthorized)
	}
	return s.db.ListRoutes()
}

func (s *Service) venuePayload(routeID string, hop Hop) (string, error) {
	instr := VenueInstruction{RouteID: routeID}
	if hop.OrderPosition != nil {
		instr.FillOrder = &FillInstruction{Position: *hop.OrderPosition}
	} else {
		// Proceeds come back to the router; slippage is not enforced
		// mid-route.
		instr.Swap = &SwapInstruction{Recipient: s.self}
	}
	raw, err := json.Marshal(instr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// GinHandlers contains HTTP handlers for route endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type beginRouteRequest struct {
	BorrowAmount            uint64  `json:"borrow_amount" binding:"required"`
	Hops                    []Hop   `json:"hops" binding:"required"`
	MinimumAcceptableAmount *uint64 `json:"minimum_acceptable_amount"`
}

// BeginRouteHandler handles POST requests from allow-listed route initiators
func (h *GinHandlers) BeginRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req beginRouteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		route, err := h.service.Begin(c.GetString("clientID"), req.BorrowAmount, req.Hops, req.MinimumAcceptableAmount)
		response.Handle(c, route, err)
	}
}

type routeCallbackRequest struct {
	ReceivedToken  string `json:"received_token" binding:"required"`
	ReceivedAmount uint64 `json:"received_amount" binding:"required"`
}

// RouteCallbackHandler handles POST requests from trading venues settling a hop
func (h *GinHandlers) RouteCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req routeCallbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		route, err := h.service.Advance(c.GetString("clientID"), c.Param("route_id"), req.ReceivedToken, req.ReceivedAmount)
		response.Handle(c, route, err)
	}
}

// FinalizeRouteHandler handles the self-addressed finalize check
func (h *GinHandlers) FinalizeRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.service.Finalize(c.GetString("clientID"), c.Param("route_id"))
		response.Handle(c, gin.H{"finalized": err == nil}, err)
	}
}

// ListRoutesHandler handles GET requests for in-flight routes
func (h *GinHandlers) ListRoutesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		routes, err := h.service.ListRoutes(c.GetString("clientID"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"routes": routes, "total": len(routes)})
	}
}
