package store

import (
	"fmt"
	"time"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

// ContentStore handles scraped content rows and the aggregate queries the
// proactive monitor runs over them.
type ContentStore struct {
	store *Store
}

// NewContentStore creates a new ContentStore.
func NewContentStore(store *Store) *ContentStore {
	return &ContentStore{store: store}
}

// Insert adds a content item.
func (cs *ContentStore) Insert(item *types.ContentItem) error {
	cs.store.mu.Lock()
	defer cs.store.mu.Unlock()

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = item.CreatedAt
	}

	result, err := cs.store.db.Exec(`
		INSERT INTO content_items (source, category, title, url, sentiment, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		item.Source,
		item.Category,
		item.Title,
		item.URL,
		item.Sentiment,
		item.PublishedAt.UTC().Format(timeLayout),
		item.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert content item: %w", err)
	}

	item.ID, _ = result.LastInsertId()
	return nil
}

// CategoryCounts returns item counts per category published in [since, until).
func (cs *ContentStore) CategoryCounts(since, until time.Time) (map[string]int, error) {
	cs.store.mu.RLock()
	defer cs.store.mu.RUnlock()

	rows, err := cs.store.db.Query(`
		SELECT category, COUNT(*) FROM content_items
		WHERE published_at >= ? AND published_at < ?
		GROUP BY category
	`,
		since.UTC().Format(timeLayout),
		until.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query category counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		counts[category] = count
	}

	return counts, rows.Err()
}

// AvgSentiment returns the mean sentiment and item count in [since, until).
func (cs *ContentStore) AvgSentiment(since, until time.Time) (float64, int, error) {
	cs.store.mu.RLock()
	defer cs.store.mu.RUnlock()

	var avg float64
	var count int
	err := cs.store.db.QueryRow(`
		SELECT COALESCE(AVG(sentiment), 0), COUNT(*) FROM content_items
		WHERE published_at >= ? AND published_at < ?
	`,
		since.UTC().Format(timeLayout),
		until.UTC().Format(timeLayout),
	).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query sentiment: %w", err)
	}

	return avg, count, nil
}

// CountBetween returns the total items published in [since, until).
func (cs *ContentStore) CountBetween(since, until time.Time) (int, error) {
	cs.store.mu.RLock()
	defer cs.store.mu.RUnlock()

	var count int
	err := cs.store.db.QueryRow(`
		SELECT COUNT(*) FROM content_items
		WHERE published_at >= ? AND published_at < ?
	`,
		since.UTC().Format(timeLayout),
		until.UTC().Format(timeLayout),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count content items: %w", err)
	}

	return count, nil
}

// ListRecent returns the most recently published items.
func (cs *ContentStore) ListRecent(limit int) ([]*types.ContentItem, error) {
	cs.store.mu.RLock()
	defer cs.store.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := cs.store.db.Query(`
		SELECT id, source, category, title, url, sentiment, published_at, created_at
		FROM content_items ORDER BY published_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query content items: %w", err)
	}
	defer rows.Close()

	var items []*types.ContentItem
	for rows.Next() {
		var item types.ContentItem
		var publishedAt, createdAt string
		err := rows.Scan(
			&item.ID,
			&item.Source,
			&item.Category,
			&item.Title,
			&item.URL,
			&item.Sentiment,
			&publishedAt,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		item.PublishedAt = parseTimestamp(publishedAt)
		item.CreatedAt = parseTimestamp(createdAt)
		items = append(items, &item)
	}

	return items, rows.Err()
}
