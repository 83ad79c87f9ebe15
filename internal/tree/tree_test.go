package tree

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
)

func setupTreeTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Distributor{}, &types.SubtreeCounters{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func place(t *testing.T, svc *Service, cfg config.CommissionConfig, id, referrer string, side types.Side) *PlacementResult {
	t.Helper()
	result, err := svc.PlaceNode(types.ReferralPlaced{
		NewDistributorID: id,
		ReferrerID:       referrer,
		PreferredSide:    side,
	}, cfg)
	if err != nil {
		t.Fatalf("place %s under %s: %v", id, referrer, err)
	}
	return result
}

func counters(t *testing.T, svc *Service, id string) *types.SubtreeCounters {
	t.Helper()
	c, err := svc.db.GetCounters(id)
	if err != nil {
		t.Fatalf("get counters for %s: %v", id, err)
	}
	return c
}

func TestPlaceRootAndDirectChildren(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	root := place(t, svc, cfg, "ROOT", "", "")
	if root.ParentID != "" {
		t.Fatalf("root must have no parent, got %q", root.ParentID)
	}

	left := place(t, svc, cfg, "A", "ROOT", types.SideLeft)
	if left.ParentID != "ROOT" || left.Side != types.SideLeft {
		t.Fatalf("expected A at ROOT/LEFT, got %s/%s", left.ParentID, left.Side)
	}

	right := place(t, svc, cfg, "B", "ROOT", types.SideRight)
	if right.ParentID != "ROOT" || right.Side != types.SideRight {
		t.Fatalf("expected B at ROOT/RIGHT, got %s/%s", right.ParentID, right.Side)
	}

	rootNode, err := svc.GetDistributor("ROOT")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	if rootNode.LeftChildID != "A" || rootNode.RightChildID != "B" {
		t.Fatalf("child pointers wrong: left=%s right=%s", rootNode.LeftChildID, rootNode.RightChildID)
	}

	c := counters(t, svc, "ROOT")
	if c.NewLeftCount != 1 || c.NewRightCount != 1 {
		t.Fatalf("expected root counters 1/1, got %d/%d", c.NewLeftCount, c.NewRightCount)
	}
}

func TestSpilloverPlacement(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")
	place(t, svc, cfg, "A", "ROOT", types.SideLeft)
	place(t, svc, cfg, "B", "ROOT", types.SideRight)

	// Root's left slot is taken, so C spills over into A's subtree while
	// still being sponsored by the root.
	result := place(t, svc, cfg, "C", "ROOT", types.SideLeft)
	if result.ParentID != "A" {
		t.Fatalf("expected spillover under A, got %s", result.ParentID)
	}

	c, err := svc.GetDistributor("C")
	if err != nil {
		t.Fatalf("get C: %v", err)
	}
	if c.ReferrerID != "ROOT" {
		t.Fatalf("sponsor must stay ROOT under spillover, got %s", c.ReferrerID)
	}
	if c.ParentID != "A" {
		t.Fatalf("placement parent must be A, got %s", c.ParentID)
	}

	// Every ancestor on the path earns the increment: A on the slot side,
	// the root on the leg containing A.
	ac := counters(t, svc, "A")
	if ac.NewLeftCount+ac.NewRightCount != 1 {
		t.Fatalf("expected one increment on A, got %d/%d", ac.NewLeftCount, ac.NewRightCount)
	}
	rc := counters(t, svc, "ROOT")
	if rc.NewLeftCount != 2 || rc.NewRightCount != 1 {
		t.Fatalf("expected root counters 2/1, got %d/%d", rc.NewLeftCount, rc.NewRightCount)
	}
}

func TestPlacementIsImmutable(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")
	place(t, svc, cfg, "A", "ROOT", types.SideLeft)

	_, err := svc.PlaceNode(types.ReferralPlaced{
		NewDistributorID: "A",
		ReferrerID:       "ROOT",
		PreferredSide:    types.SideRight,
	}, cfg)

	var placementErr *PlacementError
	if !errors.As(err, &placementErr) || !errors.Is(err, ErrDuplicateDistributor) {
		t.Fatalf("expected duplicate distributor error, got %v", err)
	}

	a, _ := svc.GetDistributor("A")
	if a.ParentID != "ROOT" || a.PlacementSide != types.SideLeft {
		t.Fatalf("placement mutated by rejected re-placement: %s/%s", a.ParentID, a.PlacementSide)
	}
}

func TestReferrerNotFound(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")

	_, err := svc.PlaceNode(types.ReferralPlaced{
		NewDistributorID: "X",
		ReferrerID:       "MISSING",
	}, cfg)
	if !errors.Is(err, ErrReferrerNotFound) {
		t.Fatalf("expected referrer-not-found, got %v", err)
	}
}

func TestSecondRootRejected(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")

	_, err := svc.PlaceNode(types.ReferralPlaced{NewDistributorID: "ROOT2"}, cfg)
	if !errors.Is(err, ErrRootAlreadyExists) {
		t.Fatalf("expected root-already-exists, got %v", err)
	}
}

func TestMaxDepthExceeded(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	cfg.MaxTreeDepth = 1
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")
	place(t, svc, cfg, "A", "ROOT", types.SideLeft)

	_, err := svc.PlaceNode(types.ReferralPlaced{
		NewDistributorID: "B",
		ReferrerID:       "A",
		PreferredSide:    types.SideLeft,
	}, cfg)
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("expected max-depth error, got %v", err)
	}
}

func TestAncestorChain(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")
	place(t, svc, cfg, "A", "ROOT", types.SideLeft)
	place(t, svc, cfg, "C", "A", types.SideRight)

	chain, err := svc.GetAncestorChain("C")
	if err != nil {
		t.Fatalf("ancestor chain: %v", err)
	}
	if len(chain) != 2 || chain[0] != "A" || chain[1] != "ROOT" {
		t.Fatalf("expected [A ROOT], got %v", chain)
	}
}

func TestSubtreeSize(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")
	place(t, svc, cfg, "A", "ROOT", types.SideLeft)
	place(t, svc, cfg, "B", "ROOT", types.SideRight)
	place(t, svc, cfg, "C", "ROOT", types.SideLeft) // spills under A

	leftSize, err := svc.GetSubtreeSize("ROOT", types.SideLeft)
	if err != nil {
		t.Fatalf("left subtree size: %v", err)
	}
	if leftSize != 2 {
		t.Fatalf("expected left size 2, got %d", leftSize)
	}

	rightSize, err := svc.GetSubtreeSize("ROOT", types.SideRight)
	if err != nil {
		t.Fatalf("right subtree size: %v", err)
	}
	if rightSize != 1 {
		t.Fatalf("expected right size 1, got %d", rightSize)
	}
}

func TestGenealogyDepthBound(t *testing.T) {
	db := setupTreeTestDB(t)
	cfg := config.Default()
	svc := NewService(db, cfg)

	place(t, svc, cfg, "ROOT", "", "")
	place(t, svc, cfg, "A", "ROOT", types.SideLeft)
	place(t, svc, cfg, "C", "A", types.SideLeft)

	view, err := svc.GetGenealogy("ROOT", 1)
	if err != nil {
		t.Fatalf("genealogy: %v", err)
	}
	if view.Left == nil || view.Left.DistributorID != "A" {
		t.Fatalf("expected A at depth 1, got %+v", view.Left)
	}
	if view.Left.Left != nil {
		t.Fatalf("depth bound not honoured, got node %+v", view.Left.Left)
	}
}
