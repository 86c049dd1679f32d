package banstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"swarmgate/internal/banindex"
	"swarmgate/internal/database"
	"swarmgate/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupBanStoreTest(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.BanRange{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() {
		database.DB = nil
	})

	return New(banindex.New())
}

func TestCreateEnforcesImmediately(t *testing.T) {
	s := setupBanStoreTest(t)
	ctx := context.Background()

	created, err := s.Create(ctx, domain.BanRange{FromIP: 3232235776, ToIP: 3232236031, Reason: "abuse"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created range has no id")
	}

	// The ban must be queryable the moment Create returns, no separate
	// reload step in between.
	if !s.Index().Contains(3232235800) {
		t.Fatal("address inside fresh range not banned")
	}
	if s.Index().Contains(3232236032) {
		t.Fatal("address past range end banned")
	}
}

func TestCreateRejectsInvertedBounds(t *testing.T) {
	s := setupBanStoreTest(t)

	_, err := s.Create(context.Background(), domain.BanRange{FromIP: 100, ToIP: 50})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if s.Index().Len() != 0 {
		t.Fatal("invalid range reached the index")
	}
}

func TestBulkCreateSkipsDuplicates(t *testing.T) {
	s := setupBanStoreTest(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, domain.BanRange{FromIP: 10, ToIP: 20, Reason: "seed"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	batch := []domain.BanRange{
		{FromIP: 10, ToIP: 20, Reason: "seed"}, // duplicate of the stored row
		{FromIP: 30, ToIP: 40, Reason: "seed"},
		{FromIP: 50, ToIP: 60, Reason: "seed"},
	}
	inserted, err := s.BulkCreate(ctx, batch)
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if inserted != int64(len(batch))-1 {
		t.Fatalf("inserted = %d, want %d", inserted, len(batch)-1)
	}
	if got := s.Index().Len(); got != 3 {
		t.Fatalf("index holds %d ranges, want 3", got)
	}
}

func TestBulkCreateRejectsBatchWithInvalidEntry(t *testing.T) {
	s := setupBanStoreTest(t)

	batch := []domain.BanRange{
		{FromIP: 10, ToIP: 20},
		{FromIP: 99, ToIP: 1},
	}
	_, err := s.BulkCreate(context.Background(), batch)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if s.Index().Len() != 0 {
		t.Fatal("partial batch reached the index")
	}
}

func TestUpdatePatchesAndRefreshes(t *testing.T) {
	s := setupBanStoreTest(t)
	ctx := context.Background()

	created, err := s.Create(ctx, domain.BanRange{FromIP: 100, ToIP: 200, Reason: "old"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newTo := uint32(300)
	newReason := "new"
	updated, err := s.Update(ctx, created.ID, Patch{ToIP: &newTo, Reason: &newReason})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ToIP != 300 || updated.Reason != "new" {
		t.Fatalf("updated row = %+v", updated)
	}
	if updated.FromIP != 100 {
		t.Fatalf("untouched field changed: from_ip = %d", updated.FromIP)
	}
	if !s.Index().Contains(250) {
		t.Fatal("widened range not enforced")
	}
}

func TestUpdateRejectsPatchInvertingBounds(t *testing.T) {
	s := setupBanStoreTest(t)
	ctx := context.Background()

	created, err := s.Create(ctx, domain.BanRange{FromIP: 100, ToIP: 200})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Raising only the lower bound above the stored upper bound must fail
	// even though the patch itself carries a single field.
	newFrom := uint32(500)
	_, err = s.Update(ctx, created.ID, Patch{FromIP: &newFrom})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if !s.Index().Contains(150) {
		t.Fatal("original range lost after rejected patch")
	}
}

func TestUpdateMissingID(t *testing.T) {
	s := setupBanStoreTest(t)

	reason := "whatever"
	if _, err := s.Update(context.Background(), 12345, Patch{Reason: &reason}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesAndRefreshes(t *testing.T) {
	s := setupBanStoreTest(t)
	ctx := context.Background()

	created, err := s.Create(ctx, domain.BanRange{FromIP: 100, ToIP: 200})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !s.Index().Contains(150) {
		t.Fatal("range not enforced after create")
	}

	deleted, err := s.Delete(ctx, created.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != created.ID {
		t.Fatalf("deleted id = %d, want %d", deleted.ID, created.ID)
	}
	if s.Index().Contains(150) {
		t.Fatal("range still enforced after delete")
	}
}

func TestDeleteMissingIDLeavesIndexUntouched(t *testing.T) {
	s := setupBanStoreTest(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, domain.BanRange{FromIP: 100, ToIP: 200}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Delete(ctx, 99999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if !s.Index().Contains(150) {
		t.Fatal("unrelated range gone after failed delete")
	}
	if got := s.Index().Len(); got != 1 {
		t.Fatalf("index holds %d ranges, want 1", got)
	}
}

func TestListPaginates(t *testing.T) {
	s := setupBanStoreTest(t)
	ctx := context.Background()

	for i := uint32(0); i < 5; i++ {
		if _, err := s.Create(ctx, domain.BanRange{FromIP: i * 10, ToIP: i*10 + 5}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	ranges, info, err := s.List(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("page holds %d rows, want 2", len(ranges))
	}
	if info.Total != 5 || info.Pages != 3 {
		t.Fatalf("page info = %+v, want total=5 pages=3", info)
	}

	last, info, err := s.List(ctx, 3, 2)
	if err != nil {
		t.Fatalf("list last page: %v", err)
	}
	if len(last) != 1 {
		t.Fatalf("last page holds %d rows, want 1", len(last))
	}
	if info.Page != 3 {
		t.Fatalf("page = %d, want 3", info.Page)
	}
}
