package duckduckgo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

const resultsPage = `<!doctype html><html><body>
<div class="result results_links result--ad">
  <a class="result__a" href="https://ads.example/">Sponsored</a>
  <a class="result__snippet">buy now</a>
</div>
<div class="result results_links web-result">
  <div class="result__body">
    <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.example%2Fslot&amp;rut=abc">Slot   <b>Online</b></a></h2>
    <a class="result__snippet" href="#">Main <b>slot</b> online
      terpercaya</a>
  </div>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://b.example/">Situs B</a>
  <a class="result__snippet">Deskripsi B</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="//c.example/path">Situs C</a>
</div>
</body></html>`

func TestParseResults(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resultsPage))
	require.NoError(t, err)

	items := ParseResults(doc, 10)
	require.Len(t, items, 3)
	assert.Equal(t, archive.CandidateItem{
		Title:   "Slot Online",
		URL:     "https://a.example/slot",
		Snippet: "Main slot online terpercaya",
	}, items[0])
	assert.Equal(t, "https://b.example/", items[1].URL)
	assert.Equal(t, "https://c.example/path", items[2].URL)
	assert.Empty(t, items[2].Snippet)

	assert.Len(t, ParseResults(doc, 2), 2)
}

func TestUnwrapRedirect(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"https://plain.example/x", "https://plain.example/x"},
		{"/l/?uddg=https%3A%2F%2Fd.example%2F", "https://d.example/"},
		{"//duckduckgo.com/l/?kh=-1&uddg=http%3A%2F%2Fe.example", "http://e.example"},
		{"//duckduckgo.com/l/?kh=-1", "https://duckduckgo.com/l/?kh=-1"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, unwrapRedirect(tc.in), "input %q", tc.in)
	}
}

func TestSearchQueriesEndpoint(t *testing.T) {
	t.Parallel()

	var gotQuery, gotRegion atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Get("q"))
		gotRegion.Store(r.URL.Query().Get("kl"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, resultsPage)
	}))
	defer srv.Close()

	p, err := New(Config{Endpoint: srv.URL + "/html/", Region: "id-id", Timeout: time.Second}, zap.NewNop())
	require.NoError(t, err)

	items, err := p.Search(context.Background(), "  slot online ", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "https://a.example/slot", items[0].URL)
	assert.Equal(t, "slot online", gotQuery.Load())
	assert.Equal(t, "id-id", gotRegion.Load())
}

func TestSearchErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New(Config{Endpoint: srv.URL, Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = p.Search(context.Background(), "slot", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = p.Search(context.Background(), "   ", 5)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Search(ctx, "slot", 5)
	require.Error(t, err)
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Endpoint: "not a url"}, nil)
	require.Error(t, err)

	p, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint+"?q=a+b", p.searchURL("a b"))
}
