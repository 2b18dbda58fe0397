package search

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS

	background sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) meiliReady() bool {
	return s != nil && s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index pushes a record to Meilisearch without blocking the caller.
func (s *Service) Index(record Record) {
	if !s.meiliReady() {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.meili.Index(record); err != nil {
			log.Warn().Err(err).Str("kind", string(record.Kind)).Str("id", record.ID).Msg("index record")
		}
	}()
}

// Delete removes a record from the search index without blocking the caller.
func (s *Service) Delete(id string) {
	if !s.meiliReady() {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.meili.Delete(id); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("delete indexed record")
		}
	}()
}

// Wait blocks until pending index and delete calls have finished.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.background.Wait()
}

// ReindexAllFromPG pushes every file and folder from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexAll(records); err != nil {
		log.Error().Err(err).Int("records", len(records)).Msg("reindex failed")
		return
	}
	log.Info().Int("records", len(records)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
