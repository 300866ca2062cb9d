package query_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherfeed/pkg/models"
	"cipherfeed/pkg/query"
	"cipherfeed/pkg/store"
)

type staticSource struct {
	rows []store.ProjectionRow
	err  error
}

func (s staticSource) ListProjections() ([]store.ProjectionRow, error) {
	return s.rows, s.err
}

func row(id uint64, category string, minutes int64, listener string, processed bool) store.ProjectionRow {
	return store.ProjectionRow{
		ID: id,
		Projection: models.Projection{
			Category:  category,
			Minutes:   minutes,
			Listener:  listener,
			Processed: processed,
		},
	}
}

func testRows() []store.ProjectionRow {
	return []store.ProjectionRow{
		row(1, "news", 30, "alice", true),
		row(2, "tech", 45, "bob", true),
		row(3, "", 0, "", false), // submitted but never resolved
		row(4, "tech", 10, "alice", true),
		row(5, "comedy", 20, "alice", false),
	}
}

func TestRecordsForUserSkipsUnprocessed(t *testing.T) {
	e := query.NewEngine(staticSource{rows: testRows()})

	rows, err := e.RecordsForUser("alice")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, uint64(1), rows[0].ID)
	require.Equal(t, uint64(4), rows[1].ID)
	require.Equal(t, "news", rows[0].Projection.Category)

	rows, err = e.RecordsForUser("nobody")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRecommendKeepsDuplicates(t *testing.T) {
	e := query.NewEngine(staticSource{rows: testRows()})

	// alice has two processed records; with the default accept-all
	// predicate each record emits each candidate once
	got, err := e.Recommend("alice", []string{"show-a", "show-b"})
	require.NoError(t, err)
	require.Equal(t, []string{"show-a", "show-b", "show-a", "show-b"}, got)
}

func TestRecommendWithSwappedPredicate(t *testing.T) {
	e := query.NewEngine(staticSource{rows: testRows()})
	e.Relevance = func(listenedCategory, candidate string) bool {
		return strings.HasPrefix(candidate, listenedCategory)
	}

	got, err := e.Recommend("alice", []string{"tech-weekly", "news-daily"})
	require.NoError(t, err)
	// record 1 (news) matches news-daily, record 4 (tech) matches tech-weekly
	require.Equal(t, []string{"news-daily", "tech-weekly"}, got)
}

func TestPatternsOnePerRecord(t *testing.T) {
	e := query.NewEngine(staticSource{rows: testRows()})

	got, err := e.Patterns("alice")
	require.NoError(t, err)
	require.Equal(t, []string{"baseline", "baseline"}, got)

	e.Pattern = func(p models.Projection) string {
		if p.Minutes >= 30 {
			return "binge"
		}
		return "sampler"
	}
	got, err = e.Patterns("alice")
	require.NoError(t, err)
	require.Equal(t, []string{"binge", "sampler"}, got)
}

func TestNicheEmitsPerRecord(t *testing.T) {
	src := staticSource{rows: []store.ProjectionRow{
		row(1, "tech", 30, "alice", true),
		row(2, "tech", 45, "alice", true),
		row(3, "news", 10, "alice", true),
	}}
	e := query.NewEngine(src)

	got, err := e.Niche("alice", 100)
	require.NoError(t, err)
	// repeated categories are not collapsed
	require.Equal(t, []string{"tech", "tech", "news"}, got)

	e.Popularity = func(category string, threshold uint64) bool {
		return category != "news" && threshold > 50
	}
	got, err = e.Niche("alice", 100)
	require.NoError(t, err)
	require.Equal(t, []string{"tech", "tech"}, got)

	got, err = e.Niche("alice", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFeedFiltersCandidates(t *testing.T) {
	e := query.NewEngine(staticSource{rows: testRows()})

	got, err := e.Feed("alice", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got)

	e.FeedFilter = func(listener, candidate string) bool {
		return listener == "alice" && candidate != "b"
	}
	got, err = e.Feed("alice", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, got)

	got, err = e.Feed("bob", []string{"a"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSourceErrorPropagates(t *testing.T) {
	boom := errors.New("iterator failed")
	e := query.NewEngine(staticSource{err: boom})

	_, err := e.RecordsForUser("alice")
	require.ErrorIs(t, err, boom)
	_, err = e.Recommend("alice", []string{"x"})
	require.ErrorIs(t, err, boom)
	_, err = e.Patterns("alice")
	require.ErrorIs(t, err, boom)
	_, err = e.Niche("alice", 1)
	require.ErrorIs(t, err, boom)
}
