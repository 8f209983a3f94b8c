package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sahilm "github.com/sahilm/fuzzy"

	"shelfsync/internal/domain"
)

// CatalogService handles catalog browsing and local fuzzy search. Network
// caching (the fixed TTL plus wholesale invalidation on writes) lives in the
// gateway; this layer keeps a search index over the titles it has seen.
type CatalogService struct {
	repo   domain.CatalogRepository
	logger *slog.Logger

	indexMu sync.RWMutex
	index   *titleIndex
}

// titleIndex implements sahilm/fuzzy.Source over the cached catalog,
// pre-lowercased at index time
type titleIndex struct {
	books       []domain.Book
	lowerTitles []string
}

// String returns the lowercase title at index i (implements fuzzy.Source)
func (idx *titleIndex) String(i int) string { return idx.lowerTitles[i] }

// Len returns the number of indexed titles (implements fuzzy.Source)
func (idx *titleIndex) Len() int { return len(idx.books) }

// SearchResult is one catalog match with highlight metadata
type SearchResult struct {
	Book           domain.Book
	MatchedIndexes []int // Character positions that matched
	Score          int
}

// NewCatalogService creates a new catalog service
func NewCatalogService(repo domain.CatalogRepository, logger *slog.Logger) *CatalogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogService{
		repo:   repo,
		logger: logger,
		index:  &titleIndex{},
	}
}

// Books returns the catalog, refreshing the gateway cache when forceRefresh
// is set, and keeps the search index current
func (s *CatalogService) Books(ctx context.Context, forceRefresh bool) ([]domain.Book, error) {
	books, err := s.repo.ListBooks(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	s.indexMu.Lock()
	idx := &titleIndex{
		books:       books,
		lowerTitles: make([]string, len(books)),
	}
	for i, b := range books {
		idx.lowerTitles[i] = strings.ToLower(b.Title)
	}
	s.index = idx
	s.indexMu.Unlock()

	return books, nil
}

// Book returns one title with its copies
func (s *CatalogService) Book(ctx context.Context, bookID string) (*domain.Book, error) {
	return s.repo.GetBook(ctx, bookID)
}

// Search matches the query against indexed titles with match positions for
// highlighting. Purely local; call Books first to populate the index.
func (s *CatalogService) Search(query string) []SearchResult {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	s.indexMu.RLock()
	idx := s.index
	s.indexMu.RUnlock()

	if idx.Len() == 0 {
		return nil
	}

	matches := sahilm.FindFrom(query, idx)

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			Book:           idx.books[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		})
	}
	return results
}

// RankTitles orders candidate titles by similarity to the query, used for
// "did you mean" suggestions when a search comes back empty
func (s *CatalogService) RankTitles(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	s.indexMu.RLock()
	idx := s.index
	s.indexMu.RUnlock()

	ranked := fuzzy.RankFindFold(query, idx.lowerTitles)
	sort.Sort(ranked)

	titles := make([]string, 0, len(ranked))
	for _, r := range ranked {
		titles = append(titles, idx.books[r.OriginalIndex].Title)
	}
	return titles
}
