package search

import (
	"context"

	"go.uber.org/zap"
)

// Primary is a Searcher that can also be written to.
type Primary interface {
	Searcher
	Indexer
}

// RecordLoader supplies every session for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]SessionRecord, error)
}

// Service tries the primary engine first and falls back to the database.
type Service struct {
	primary  Primary
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
}

// NewService creates a search service. Pass a nil primary (untyped) when
// Meilisearch is not configured.
func NewService(primary Primary, fallback *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{primary: primary, logger: logger}
	if fallback != nil {
		s.fallback = fallback
		s.loader = fallback
	}
	return s
}

// SessionIDs returns matching session IDs. An empty query returns nil, which
// callers treat as "no restriction".
func (s *Service) SessionIDs(ctx context.Context, q Query) ([]string, error) {
	if q.Text == "" {
		return nil, nil
	}
	if s.primary != nil && s.primary.Healthy() {
		ids, err := s.primary.SearchSessionIDs(ctx, q)
		if err == nil {
			return nonNil(ids), nil
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}
	if s.fallback == nil {
		return []string{}, nil
	}
	ids, err := s.fallback.SearchSessionIDs(ctx, q)
	if err != nil {
		return nil, err
	}
	return nonNil(ids), nil
}

// IndexSession pushes one session to the primary index without blocking.
func (s *Service) IndexSession(record SessionRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexSessions([]SessionRecord{record}); err != nil {
			s.logger.Warn("index session", zap.String("session_id", record.ID), zap.Error(err))
		}
	}()
}

// ReindexAll reloads every session from the database into the primary index.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.primary == nil || !s.primary.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.primary.IndexSessions(records); err != nil {
		s.logger.Warn("reindex sessions", zap.Error(err))
		return
	}
	s.logger.Info("reindexed sessions", zap.Int("count", len(records)))
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
