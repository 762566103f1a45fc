package ogmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

func TestExtractAllTags(t *testing.T) {
	t.Parallel()

	html := `<!doctype html><html><head>
<meta property="og:title" content="Hello">
<meta property="og:description" content="Deskripsi situs">
<meta property="OG:TYPE" content="website">
<meta property="og:site_name" content="Example">
</head><body></body></html>`

	meta, err := Extract([]byte(html))
	require.NoError(t, err)

	want := map[string]string{
		archive.TagTitle:       "Hello",
		archive.TagDescription: "Deskripsi situs",
		archive.TagType:        "website",
		archive.TagSiteName:    "Example",
	}
	for tag, expected := range want {
		got, ok := meta.Value(tag)
		require.True(t, ok, tag)
		assert.Equal(t, expected, got)
	}
}

func TestExtractMissingTagsAreNil(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<meta property="og:title" content="Only title">
<meta property="og:description">
<meta property="og:type" content="">
<meta name="description" content="not og">
</head></html>`

	meta, err := Extract([]byte(html))
	require.NoError(t, err)
	require.Len(t, meta, 4)

	title, ok := meta.Value(archive.TagTitle)
	require.True(t, ok)
	assert.Equal(t, "Only title", title)

	for _, tag := range []string{archive.TagDescription, archive.TagType, archive.TagSiteName} {
		_, ok := meta.Value(tag)
		assert.False(t, ok, tag)
		assert.Contains(t, meta, tag)
	}
}

func TestExtractFirstMatchWins(t *testing.T) {
	t.Parallel()

	html := `<meta property="og:title" content="first"><meta property="og:title" content="second">`
	meta, err := Extract([]byte(html))
	require.NoError(t, err)
	got, _ := meta.Value(archive.TagTitle)
	assert.Equal(t, "first", got)
}

func TestExtractEmptyMarkup(t *testing.T) {
	t.Parallel()

	meta, err := Extract(nil)
	require.NoError(t, err)
	assert.Equal(t, archive.NewMetadata(), meta)
}
