package search_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sondreby/ailog/internal/index"
	"github.com/sondreby/ailog/internal/model"
	"github.com/sondreby/ailog/internal/scan"
	"github.com/sondreby/ailog/internal/search"
)

const claudeSearchFixture = `{"type":"user","timestamp":"2025-02-01T12:00:00Z","cwd":"/home/x/webapp","message":{"role":"user","content":"the deploy pipeline is broken"}}
{"type":"assistant","timestamp":"2025-02-01T12:00:03Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"the deploy config changed recently"},{"type":"text","text":"the deploy step is missing credentials"}]}}
{"type":"assistant","timestamp":"2025-02-01T12:00:10Z","message":{"role":"assistant","content":[{"type":"tool_use","name":"Bash","input":{"command":"kubectl get pods"}}]}}
`

const codexSearchFixture = `{"timestamp":"2025-02-02T08:00:00Z","type":"session_meta","payload":{"id":"s-77","cwd":"/home/x/cli-tool"}}
{"timestamp":"2025-02-02T08:00:05Z","type":"event_msg","payload":{"type":"user_message","message":"refactor the deploy script"}}
{"timestamp":"2025-02-02T08:00:20Z","type":"event_msg","payload":{"type":"agent_message","text":"split the script into stages"}}
`

func newSearchService(t *testing.T) (*search.Service, *index.Store) {
	t.Helper()

	claudeRoot := t.TempDir()
	claudePath := filepath.Join(claudeRoot, "-home-x-webapp", "sess-web.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(claudePath), 0o755))
	require.NoError(t, os.WriteFile(claudePath, []byte(claudeSearchFixture), 0o644))

	codexRoot := t.TempDir()
	codexPath := filepath.Join(codexRoot, "rollout-77.jsonl")
	require.NoError(t, os.WriteFile(codexPath, []byte(codexSearchFixture), 0o644))

	store, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ix := index.New(store, zap.NewNop(), index.Options{Workers: 2})
	_, err = ix.Run(context.Background(), scan.Roots{Claude: claudeRoot, Codex: codexRoot}, false)
	require.NoError(t, err)

	return search.NewService(store), store
}

func TestTextSearchRanksAndSnippets(t *testing.T) {
	svc, _ := newSearchService(t)

	res, err := svc.Search(context.Background(), search.Options{Text: "deploy"})
	require.NoError(t, err)
	require.Equal(t, 4, res.TotalCount)
	require.Len(t, res.Results, 4)
	require.Contains(t, res.Results[0].Snippet, ">>>deploy<<<")
}

func TestTextSearchStemsTerms(t *testing.T) {
	svc, _ := newSearchService(t)

	// porter stemming matches "refactor" against "refactoring" queries
	res, err := svc.Search(context.Background(), search.Options{Text: "refactoring"})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	require.Equal(t, model.ProviderCodex, res.Results[0].Provider)
}

func TestProviderFilter(t *testing.T) {
	svc, _ := newSearchService(t)

	res, err := svc.Search(context.Background(), search.Options{
		Text:      "deploy",
		Providers: []model.Provider{model.ProviderCodex},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	for _, r := range res.Results {
		require.Equal(t, model.ProviderCodex, r.Provider)
	}
}

func TestCategoryFilterKeepsFullFacets(t *testing.T) {
	svc, _ := newSearchService(t)

	res, err := svc.Search(context.Background(), search.Options{
		Text:       "deploy",
		Categories: []model.Category{model.CategoryThinking},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	require.Equal(t, model.CategoryThinking, res.Results[0].Category)

	// facet counts ignore the category filter
	require.Equal(t, 2, res.FacetCounts[model.CategoryUser])
	require.Equal(t, 1, res.FacetCounts[model.CategoryAssistant])
	require.Equal(t, 1, res.FacetCounts[model.CategoryThinking])
}

func TestProjectQueryMatchesNameAndPath(t *testing.T) {
	svc, _ := newSearchService(t)

	res, err := svc.Search(context.Background(), search.Options{
		Text:         "deploy",
		ProjectQuery: "webapp",
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalCount)
	for _, r := range res.Results {
		require.Equal(t, "webapp", r.ProjectName)
	}

	res, err = svc.Search(context.Background(), search.Options{
		Text:         "deploy",
		ProjectQuery: "/home/x/cli",
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
}

func TestEmptyTextListsByRecency(t *testing.T) {
	svc, _ := newSearchService(t)

	res, err := svc.Search(context.Background(), search.Options{})
	require.NoError(t, err)
	require.Equal(t, 6, res.TotalCount)
	require.Len(t, res.Results, 6)
	// newest message first
	require.Equal(t, model.ProviderCodex, res.Results[0].Provider)

	var facetSum int
	for _, n := range res.FacetCounts {
		facetSum += n
	}
	require.Equal(t, res.TotalCount, facetSum)
}

func TestEmptyTextFacetsHonorProviderFilter(t *testing.T) {
	svc, _ := newSearchService(t)

	res, err := svc.Search(context.Background(), search.Options{
		Providers: []model.Provider{model.ProviderClaude},
	})
	require.NoError(t, err)
	require.Equal(t, 4, res.TotalCount)
	require.Equal(t, 1, res.FacetCounts[model.CategoryUser])
	require.Equal(t, 1, res.FacetCounts[model.CategoryToolUse])
	require.Equal(t, 0, res.FacetCounts[model.CategoryToolResult])
}

func TestLimitAndOffsetPaginate(t *testing.T) {
	svc, _ := newSearchService(t)

	first, err := svc.Search(context.Background(), search.Options{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Results, 2)
	require.Equal(t, 6, first.TotalCount)

	second, err := svc.Search(context.Background(), search.Options{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, second.Results, 2)
	require.NotEqual(t, first.Results[0].MessageID, second.Results[0].MessageID)
}

func TestCategoryBrowseAcrossProviders(t *testing.T) {
	// three user turns and two assistant turns in one claude session, one
	// tool call pair in a codex session
	claude := `{"type":"user","timestamp":"2025-03-10T10:00:00Z","message":{"role":"user","content":"first question"}}
{"type":"assistant","timestamp":"2025-03-10T10:00:01Z","message":{"role":"assistant","content":"first answer"}}
{"type":"user","timestamp":"2025-03-10T10:00:02Z","message":{"role":"user","content":"second question"}}
{"type":"assistant","timestamp":"2025-03-10T10:00:03Z","message":{"role":"assistant","content":"second answer"}}
{"type":"user","timestamp":"2025-03-10T10:00:04Z","message":{"role":"user","content":"third question"}}
`
	codex := `{"timestamp":"2025-03-10T11:00:00Z","type":"response_item","payload":{"type":"function_call","name":"shell","arguments":"{\"command\":[\"ls\"]}"}}
{"timestamp":"2025-03-10T11:00:01Z","type":"response_item","payload":{"type":"function_call_output","output":"main.go"}}
`
	claudeRoot := t.TempDir()
	path := filepath.Join(claudeRoot, "-home-x-alpha", "sess-alpha.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(claude), 0o644))
	codexRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(codexRoot, "rollout-9.jsonl"), []byte(codex), 0o644))

	store, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer store.Close()

	ix := index.New(store, zap.NewNop(), index.Options{Workers: 2})
	sum, err := ix.Run(context.Background(), scan.Roots{Claude: claudeRoot, Codex: codexRoot}, false)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Indexed)
	require.Equal(t, 7, sum.TotalMessages)

	svc := search.NewService(store)
	res, err := svc.Search(context.Background(), search.Options{
		Categories: []model.Category{model.CategoryToolUse, model.CategoryToolResult},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalCount)
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		require.Equal(t, model.ProviderCodex, r.Provider)
	}
	require.Equal(t, 1, res.FacetCounts[model.CategoryToolUse])
	require.Equal(t, 1, res.FacetCounts[model.CategoryToolResult])
	// the unselected categories stay countable
	require.Equal(t, 3, res.FacetCounts[model.CategoryUser])
	require.Equal(t, 2, res.FacetCounts[model.CategoryAssistant])
}

func TestQuerySyntaxCannotInjectFTSOperators(t *testing.T) {
	svc, _ := newSearchService(t)

	// raw FTS5 syntax would error; quoting must neutralize it
	res, err := svc.Search(context.Background(), search.Options{Text: `deploy AND ("`})
	require.NoError(t, err)
	require.Zero(t, res.TotalCount)

	res, err = svc.Search(context.Background(), search.Options{Text: "deploy NEAR broken"})
	require.NoError(t, err)
	// NEAR is treated as a literal term, so the implicit AND finds nothing
	require.Zero(t, res.TotalCount)
}
