package types

// Inbound events consumed from external collaborators. The engine trusts
// these as already validated: it never decides whether a payment happened
// or whether a purchase qualifies, only what the compensation consequences
// are.

// ReferralPlaced requests placement of a new distributor under a referrer.
type ReferralPlaced struct {
	NewDistributorID string `json:"new_distributor_id" binding:"required"`
	ReferrerID       string `json:"referrer_id"`
	PreferredSide    Side   `json:"preferred_side,omitempty"`
}

// PurchaseActivated signals a qualifying purchase by a distributor. It
// flips the active-buyer flag and may pay a direct commission to the
// distributor's referrer.
type PurchaseActivated struct {
	DistributorID string  `json:"distributor_id" binding:"required"`
	AmountPaid    float64 `json:"amount_paid"`
}

// DirectReferralCountChanged carries the authoritative direct referral
// count for a distributor and triggers the activation check.
type DirectReferralCountChanged struct {
	DistributorID string `json:"distributor_id" binding:"required"`
	NewCount      int    `json:"new_count" binding:"gte=0"`
}
