package tree

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"github.com/zujaelectricals/EV-Frontend-sub001/pkg/response"
)

// Service owns the binary tree structure: placement, ancestry queries and
// the leg-counter side effects of every placement.
type Service struct {
	db  *Database
	cfg config.CommissionConfig

	// A placement mutates counters on every ancestor up to the root, so
	// placements are serialized rather than locked per node.
	mu sync.Mutex
}

// NewService creates a new tree service with the given database connection.
func NewService(gormDB *gorm.DB, cfg config.CommissionConfig) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		cfg: cfg,
	}
}

// PlaceNode places a new distributor under a referrer. If the preferred
// slot of the referrer is taken, the node spills over: breadth-first down
// the preferred-side subtree looking for an open slot, then down the
// opposite side, bounded by the configured maximum depth. Placement is
// immutable once made.
func (s *Service) PlaceNode(event types.ReferralPlaced, cfg config.CommissionConfig) (*PlacementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().
		Str("distributor_id", event.NewDistributorID).
		Str("referrer_id", event.ReferrerID).
		Str("service", "tree").
		Logger()

	existing, err := s.db.GetDistributor(event.NewDistributorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &PlacementError{ReferrerID: event.ReferrerID, DistributorID: event.NewDistributorID, Err: ErrDuplicateDistributor}
	}

	// An empty referrer requests the tree root
	if event.ReferrerID == "" {
		return s.placeRoot(event.NewDistributorID)
	}

	referrer, err := s.db.GetDistributor(event.ReferrerID)
	if err != nil {
		return nil, err
	}
	if referrer == nil {
		return nil, &PlacementError{ReferrerID: event.ReferrerID, DistributorID: event.NewDistributorID, Err: ErrReferrerNotFound}
	}

	preferred := event.PreferredSide
	if preferred == "" {
		preferred = cfg.DefaultPlacementSide
	}
	if !preferred.Valid() {
		return nil, &PlacementError{ReferrerID: event.ReferrerID, DistributorID: event.NewDistributorID, Err: ErrInvalidSide}
	}

	parent, side, depth, err := s.findOpenSlot(referrer, preferred, cfg)
	if err != nil {
		return nil, &PlacementError{ReferrerID: event.ReferrerID, DistributorID: event.NewDistributorID, Err: err}
	}

	increments, err := s.ancestorIncrements(parent, side)
	if err != nil {
		return nil, err
	}

	distributor := &types.Distributor{
		DistributorID: event.NewDistributorID,
		ReferrerID:    event.ReferrerID,
		ParentID:      parent.DistributorID,
		PlacementSide: side,
		JoinedAt:      time.Now(),
	}

	if err := s.db.ApplyPlacement(distributor, parent, side, increments); err != nil {
		logger.Error().Err(err).Msg("failed to apply placement")
		return nil, err
	}

	logger.Info().
		Str("parent_id", parent.DistributorID).
		Str("side", string(side)).
		Int("depth", depth).
		Int("ancestors_updated", len(increments)).
		Msg("distributor placed")

	return &PlacementResult{
		DistributorID:    distributor.DistributorID,
		ReferrerID:       distributor.ReferrerID,
		ParentID:         parent.DistributorID,
		Side:             side,
		Depth:            depth,
		AncestorsUpdated: len(increments),
	}, nil
}

// placeRoot creates the single parentless distributor.
func (s *Service) placeRoot(distributorID string) (*PlacementResult, error) {
	root, err := s.db.GetRoot()
	if err != nil {
		return nil, err
	}
	if root != nil {
		return nil, &PlacementError{DistributorID: distributorID, Err: ErrRootAlreadyExists}
	}

	distributor := &types.Distributor{
		DistributorID: distributorID,
		JoinedAt:      time.Now(),
	}
	if err := s.db.ApplyPlacement(distributor, nil, "", nil); err != nil {
		return nil, err
	}

	log.Info().Str("distributor_id", distributorID).Str("service", "tree").Msg("tree root placed")
	return &PlacementResult{DistributorID: distributorID}, nil
}

type slotCandidate struct {
	id    string
	depth int
}

// findOpenSlot returns the parent and side for the next placement under
// the referrer. The referrer's own preferred slot wins when empty;
// otherwise the preferred-side subtree is searched breadth-first, then
// the opposite side, checking the configured default placement side of
// each visited node first.
func (s *Service) findOpenSlot(referrer *types.Distributor, preferred types.Side, cfg config.CommissionConfig) (*types.Distributor, types.Side, int, error) {
	referrerDepth, err := s.depthOf(referrer)
	if err != nil {
		return nil, "", 0, err
	}

	if referrer.ChildID(preferred) == "" {
		if referrerDepth+1 > cfg.MaxTreeDepth {
			return nil, "", 0, ErrMaxDepthExceeded
		}
		return referrer, preferred, referrerDepth + 1, nil
	}

	for _, leg := range []types.Side{preferred, preferred.Opposite()} {
		childID := referrer.ChildID(leg)
		if childID == "" {
			// The fallback leg itself is open on the referrer
			if referrerDepth+1 > cfg.MaxTreeDepth {
				continue
			}
			return referrer, leg, referrerDepth + 1, nil
		}

		queue := []slotCandidate{{id: childID, depth: referrerDepth + 1}}
		for len(queue) > 0 {
			candidate := queue[0]
			queue = queue[1:]

			if candidate.depth+1 > cfg.MaxTreeDepth {
				continue
			}

			node, err := s.db.GetDistributor(candidate.id)
			if err != nil {
				return nil, "", 0, err
			}
			if node == nil {
				return nil, "", 0, fmt.Errorf("dangling child pointer %s", candidate.id)
			}

			for _, slot := range []types.Side{cfg.DefaultPlacementSide, cfg.DefaultPlacementSide.Opposite()} {
				if node.ChildID(slot) == "" {
					return node, slot, candidate.depth + 1, nil
				}
			}

			queue = append(queue,
				slotCandidate{id: node.LeftChildID, depth: candidate.depth + 1},
				slotCandidate{id: node.RightChildID, depth: candidate.depth + 1},
			)
		}
	}

	return nil, "", 0, ErrMaxDepthExceeded
}

// ancestorIncrements builds the +1 leg increments for every ancestor from
// the new node's parent up to the root. The leg recorded for each
// ancestor is the side of the path leading down to the insertion point,
// which is what lets a distributor earn from spillover placements deep in
// its subtree.
func (s *Service) ancestorIncrements(parent *types.Distributor, side types.Side) ([]LegIncrement, error) {
	increments := []LegIncrement{{DistributorID: parent.DistributorID, Side: side}}

	node := parent
	for node.ParentID != "" {
		next, err := s.db.GetDistributor(node.ParentID)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("dangling parent pointer %s", node.ParentID)
		}
		increments = append(increments, LegIncrement{DistributorID: next.DistributorID, Side: node.PlacementSide})
		node = next
	}
	return increments, nil
}

// depthOf returns the number of ancestors above the node; the root is at
// depth zero.
func (s *Service) depthOf(node *types.Distributor) (int, error) {
	depth := 0
	cur := node
	for cur.ParentID != "" {
		next, err := s.db.GetDistributor(cur.ParentID)
		if err != nil {
			return 0, err
		}
		if next == nil {
			return 0, fmt.Errorf("dangling parent pointer %s", cur.ParentID)
		}
		depth++
		cur = next
	}
	return depth, nil
}

// GetAncestorChain returns the distributor IDs on the path from the
// node's immediate parent up to the root, in that order.
func (s *Service) GetAncestorChain(distributorID string) ([]string, error) {
	node, err := s.db.GetDistributor(distributorID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &PlacementError{DistributorID: distributorID, Err: ErrReferrerNotFound}
	}

	var chain []string
	for node.ParentID != "" {
		chain = append(chain, node.ParentID)
		node, err = s.db.GetDistributor(node.ParentID)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, fmt.Errorf("dangling parent pointer in ancestor chain of %s", distributorID)
		}
	}
	return chain, nil
}

// GetSubtreeSize counts the distributors in one leg of a subtree.
// Read-only, used for the weak-leg report.
func (s *Service) GetSubtreeSize(distributorID string, side types.Side) (int, error) {
	node, err := s.db.GetDistributor(distributorID)
	if err != nil {
		return 0, err
	}
	if node == nil {
		return 0, &PlacementError{DistributorID: distributorID, Err: ErrReferrerNotFound}
	}

	frontier := []string{}
	if childID := node.ChildID(side); childID != "" {
		frontier = append(frontier, childID)
	}

	size := 0
	for len(frontier) > 0 {
		batch, err := s.db.GetDistributorsByIDs(frontier)
		if err != nil {
			return 0, err
		}
		size += len(batch)

		var next []string
		for _, d := range batch {
			if d.LeftChildID != "" {
				next = append(next, d.LeftChildID)
			}
			if d.RightChildID != "" {
				next = append(next, d.RightChildID)
			}
		}
		frontier = next
	}
	return size, nil
}

// GetGenealogy builds the downline view of a subtree to a bounded depth.
func (s *Service) GetGenealogy(distributorID string, maxDepth int) (*TreeNode, error) {
	node, err := s.db.GetDistributor(distributorID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, &PlacementError{DistributorID: distributorID, Err: ErrReferrerNotFound}
	}
	return s.buildTreeNode(node, maxDepth)
}

func (s *Service) buildTreeNode(node *types.Distributor, remaining int) (*TreeNode, error) {
	view := &TreeNode{
		DistributorID: node.DistributorID,
		IsActivated:   node.IsActivated,
		IsActiveBuyer: node.IsActiveBuyer,
	}
	if remaining <= 0 {
		return view, nil
	}

	for _, side := range []types.Side{types.SideLeft, types.SideRight} {
		childID := node.ChildID(side)
		if childID == "" {
			continue
		}
		child, err := s.db.GetDistributor(childID)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, fmt.Errorf("dangling child pointer %s", childID)
		}
		childView, err := s.buildTreeNode(child, remaining-1)
		if err != nil {
			return nil, err
		}
		if side == types.SideLeft {
			view.Left = childView
		} else {
			view.Right = childView
		}
	}
	return view, nil
}

// GetDistributor exposes a single distributor record.
func (s *Service) GetDistributor(distributorID string) (*types.Distributor, error) {
	return s.db.GetDistributor(distributorID)
}

// GinHandlers contains HTTP handlers for tree endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for tree endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// PlaceReferralHandler handles POST requests delivering ReferralPlaced
// events. Requires internal authentication.
func (h *GinHandlers) PlaceReferralHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var event types.ReferralPlaced
		if err := c.ShouldBindJSON(&event); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PlaceNode(event, h.service.cfg)
		var placementErr *PlacementError
		if errors.As(err, &placementErr) {
			response.BadRequest(c, placementErr.Error())
			return
		}
		response.Handle(c, result, err)
	}
}

// GetDistributorHandler handles GET requests for a distributor record.
// URL parameter: distributor_id
func (h *GinHandlers) GetDistributorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		distributor, err := h.service.GetDistributor(distributorID)
		if err == nil && distributor == nil {
			response.NotFound(c, "Distributor not found")
			return
		}
		response.Handle(c, distributor, err)
	}
}

// GetGenealogyHandler handles GET requests for the downline tree view.
// URL parameter: distributor_id, optional query: depth
func (h *GinHandlers) GetGenealogyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		depth := 5
		if v := c.Query("depth"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				depth = parsed
			}
		}

		view, err := h.service.GetGenealogy(distributorID, depth)
		response.Handle(c, view, err)
	}
}

// GetLegVolumesHandler handles GET requests for the weak-leg report.
// URL parameter: distributor_id
func (h *GinHandlers) GetLegVolumesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		leftSize, err := h.service.GetSubtreeSize(distributorID, types.SideLeft)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		rightSize, err := h.service.GetSubtreeSize(distributorID, types.SideRight)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, LegVolumes{
			DistributorID: distributorID,
			LeftSize:      leftSize,
			RightSize:     rightSize,
		})
	}
}
