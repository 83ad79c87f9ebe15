package tree

import (
	"errors"
	"fmt"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
)

var (
	ErrReferrerNotFound     = errors.New("referrer does not exist")
	ErrDuplicateDistributor = errors.New("distributor is already placed")
	ErrRootAlreadyExists    = errors.New("tree root already exists")
	ErrMaxDepthExceeded     = errors.New("no open slot within maximum tree depth")
	ErrInvalidSide          = errors.New("invalid placement side")
)

// PlacementError wraps a placement rejection with the context the caller
// needs to retry against a different referrer or escalate.
type PlacementError struct {
	ReferrerID    string
	DistributorID string
	Err           error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("placement of %s under %s rejected: %v", e.DistributorID, e.ReferrerID, e.Err)
}

func (e *PlacementError) Unwrap() error { return e.Err }

// PlacementResult describes where a new distributor landed and how many
// ancestor leg counters the placement touched.
type PlacementResult struct {
	DistributorID    string     `json:"distributor_id"`
	ReferrerID       string     `json:"referrer_id"`
	ParentID         string     `json:"parent_id"`
	Side             types.Side `json:"side"`
	Depth            int        `json:"depth"`
	AncestorsUpdated int        `json:"ancestors_updated"`
}

// LegIncrement records a single +1 on one leg counter of one ancestor,
// applied atomically with the placement itself.
type LegIncrement struct {
	DistributorID string
	Side          types.Side
}

// TreeNode is the genealogy view of a subtree, consumed by the admin
// console's tree screen.
type TreeNode struct {
	DistributorID string    `json:"distributor_id"`
	IsActivated   bool      `json:"is_activated"`
	IsActiveBuyer bool      `json:"is_active_buyer"`
	Left          *TreeNode `json:"left,omitempty"`
	Right         *TreeNode `json:"right,omitempty"`
}

// LegVolumes is the weak-leg report for one distributor.
type LegVolumes struct {
	DistributorID string `json:"distributor_id"`
	LeftSize      int    `json:"left_size"`
	RightSize     int    `json:"right_size"`
}
