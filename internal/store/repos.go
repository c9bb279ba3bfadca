package store

import "github.com/ashita-ai/musubi/internal/graph"

// NewGraphRepos bundles the graph-backed repositories over a shared pool.
func NewGraphRepos(pool *graph.Pool) Repos {
	return Repos{
		Entities:      NewGraphEntityRepo(pool),
		Synonyms:      NewGraphSynonymRepo(pool),
		Duplicates:    NewGraphDuplicateRepo(pool),
		Relationships: NewGraphRelationshipRepo(pool),
		Decisions:     NewGraphDecisionRepo(pool),
		Reviews:       NewGraphReviewRepo(pool),
		Ledger:        NewGraphLedgerRepo(pool),
	}
}
