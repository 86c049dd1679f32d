package banstore

import (
	"context"
	"errors"
	"fmt"

	"swarmgate/internal/banindex"
	"swarmgate/internal/database"
	"swarmgate/internal/domain"
	"swarmgate/internal/metrics"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by Update and Delete when no range has the
// requested id.
var ErrNotFound = errors.New("ban range not found")

// ValidationError marks caller-correctable input problems (inverted bounds).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid ban range: " + e.Reason
}

// PageInfo describes one page of a listing.
type PageInfo struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// Patch carries the updatable fields of a range; nil fields are untouched.
type Patch struct {
	FromIP *uint32
	ToIP   *uint32
	Reason *string
}

// Store is the only component allowed to mutate persisted ban ranges. Every
// successful mutation refreshes the in-memory index before returning, so a
// new ban is enforceable the moment the call completes.
type Store struct {
	index   *banindex.Index
	refresh singleflight.Group
}

func New(index *banindex.Index) *Store {
	return &Store{index: index}
}

// Index exposes the in-memory index the store refreshes.
func (s *Store) Index() *banindex.Index {
	return s.index
}

// Load hydrates the index from the backing store. Called once at startup
// and after every mutation.
func (s *Store) Load(ctx context.Context) error {
	_, err, _ := s.refresh.Do("refresh", func() (any, error) {
		ranges, err := database.AllBanRanges(ctx)
		if err != nil {
			return nil, fmt.Errorf("load ban ranges: %w", err)
		}
		s.index.Rebuild(ranges)
		metrics.SetBanIndexSize(s.index.Len())
		return nil, nil
	})
	return err
}

// List returns one page of ranges, newest first.
func (s *Store) List(ctx context.Context, page, limit int) ([]domain.BanRange, PageInfo, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	ranges, total, err := database.ListBanRanges(ctx, page, limit)
	if err != nil {
		return nil, PageInfo{}, err
	}

	pages := total / int64(limit)
	if total%int64(limit) != 0 {
		pages++
	}
	return ranges, PageInfo{Page: page, Limit: limit, Total: total, Pages: pages}, nil
}

// Create persists a single range and refreshes the index.
func (s *Store) Create(ctx context.Context, r domain.BanRange) (domain.BanRange, error) {
	if r.FromIP > r.ToIP {
		return domain.BanRange{}, &ValidationError{Reason: "from address is above to address"}
	}

	if err := database.InsertBanRange(ctx, &r); err != nil {
		return domain.BanRange{}, err
	}

	if err := s.Load(ctx); err != nil {
		return domain.BanRange{}, err
	}
	return r, nil
}

// BulkCreate persists all valid entries, skipping exact duplicates of rows
// already stored, and refreshes the index once for the whole batch. Returns
// the number of rows actually inserted.
func (s *Store) BulkCreate(ctx context.Context, ranges []domain.BanRange) (int64, error) {
	for _, r := range ranges {
		if r.FromIP > r.ToIP {
			return 0, &ValidationError{Reason: "from address is above to address"}
		}
	}

	inserted, err := database.InsertBanRanges(ctx, ranges)
	if err != nil {
		return 0, err
	}
	if skipped := int64(len(ranges)) - inserted; skipped > 0 {
		log.Debug("Skipped duplicate ban ranges in bulk insert", "skipped", skipped)
	}

	if err := s.Load(ctx); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// Update patches an existing range and refreshes the index. The patched
// row must still satisfy FromIP <= ToIP, also when only one bound changes.
func (s *Store) Update(ctx context.Context, id uint64, patch Patch) (domain.BanRange, error) {
	existing, err := database.GetBanRange(ctx, id)
	if err != nil {
		if database.IsNotFound(err) {
			return domain.BanRange{}, ErrNotFound
		}
		return domain.BanRange{}, err
	}

	from, to := existing.FromIP, existing.ToIP
	values := make(map[string]any)
	if patch.FromIP != nil {
		from = *patch.FromIP
		values["from_ip"] = from
	}
	if patch.ToIP != nil {
		to = *patch.ToIP
		values["to_ip"] = to
	}
	if patch.Reason != nil {
		values["reason"] = *patch.Reason
	}
	if from > to {
		return domain.BanRange{}, &ValidationError{Reason: "from address is above to address"}
	}

	updated, err := database.UpdateBanRange(ctx, id, values)
	if err != nil {
		if database.IsNotFound(err) {
			return domain.BanRange{}, ErrNotFound
		}
		return domain.BanRange{}, err
	}

	if err := s.Load(ctx); err != nil {
		return domain.BanRange{}, err
	}
	return updated, nil
}

// Delete removes a range and refreshes the index.
func (s *Store) Delete(ctx context.Context, id uint64) (domain.BanRange, error) {
	deleted, err := database.DeleteBanRange(ctx, id)
	if err != nil {
		if database.IsNotFound(err) {
			return domain.BanRange{}, ErrNotFound
		}
		return domain.BanRange{}, err
	}

	if err := s.Load(ctx); err != nil {
		return domain.BanRange{}, err
	}
	return deleted, nil
}
