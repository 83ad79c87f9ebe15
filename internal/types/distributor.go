package types

import (
	"time"

	"gorm.io/gorm"
)

// Side identifies a leg of the binary tree.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// Opposite returns the other leg.
func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Valid reports whether the side is one of the two known legs.
func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// Distributor is a participant placed in the binary compensation tree.
// Placement (ParentID + PlacementSide) is assigned once and never changed;
// ReferrerID is the sponsoring distributor, which under spillover is not
// necessarily the placement parent.
type Distributor struct {
	gorm.Model          `json:"-"`
	DistributorID       string    `gorm:"uniqueIndex" json:"distributor_id"`
	ReferrerID          string    `gorm:"index" json:"referrer_id"`
	ParentID            string    `gorm:"index" json:"parent_id"` // empty for the root
	PlacementSide       Side      `json:"placement_side"`
	LeftChildID         string    `json:"left_child_id"`
	RightChildID        string    `json:"right_child_id"`
	DirectReferralCount int       `json:"direct_referral_count"`
	IsActivated         bool      `json:"is_activated"`
	IsActiveBuyer       bool      `json:"is_active_buyer"`
	TotalMatchedPairs   int       `json:"total_matched_pairs"` // lifetime pairs consumed by matching
	JoinedAt            time.Time `json:"joined_at"`
}

// ChildID returns the child pointer for the given leg.
func (d *Distributor) ChildID(side Side) string {
	if side == SideLeft {
		return d.LeftChildID
	}
	return d.RightChildID
}

// SetChildID sets the child pointer for the given leg.
func (d *Distributor) SetChildID(side Side, id string) {
	if side == SideLeft {
		d.LeftChildID = id
	} else {
		d.RightChildID = id
	}
}

// SubtreeCounters holds the per-leg unmatched placement counts for one
// distributor. New counts are incremented by tree placements and consumed
// by the matching engine; carried counts hold carry-forward backlog from
// closed periods, with an age in periods per bucket.
type SubtreeCounters struct {
	gorm.Model        `json:"-"`
	DistributorID     string `gorm:"uniqueIndex" json:"distributor_id"`
	NewLeftCount      int    `json:"new_left_count"`
	NewRightCount     int    `json:"new_right_count"`
	CarriedLeftCount  int    `json:"carried_left_count"`
	CarriedRightCount int    `json:"carried_right_count"`
	CarriedLeftAge    int    `json:"carried_left_age"`
	CarriedRightAge   int    `json:"carried_right_age"`
}

// AvailableLeft is the total consumable left-leg count.
func (c *SubtreeCounters) AvailableLeft() int {
	return c.CarriedLeftCount + c.NewLeftCount
}

// AvailableRight is the total consumable right-leg count.
func (c *SubtreeCounters) AvailableRight() int {
	return c.CarriedRightCount + c.NewRightCount
}
