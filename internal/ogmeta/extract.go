// Package ogmeta extracts OpenGraph social metadata from page markup.
package ogmeta

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

// Extract parses markup and returns the social tags. Missing tags or tags
// without a content attribute resolve to nil.
func Extract(markup []byte) (archive.Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromDocument(doc), nil
}

// FromDocument reads the social tags from an already parsed document.
func FromDocument(doc *goquery.Document) archive.Metadata {
	meta := archive.NewMetadata()
	for _, tag := range archive.SocialTags {
		if v, ok := lookup(doc, tag); ok {
			meta[tag] = &v
		}
	}
	return meta
}

// lookup returns the content of the first meta element whose property matches
// tag. Property comparison is case-insensitive.
func lookup(doc *goquery.Document, tag string) (string, bool) {
	var (
		value string
		found bool
	)
	doc.Find("meta[property]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		prop, _ := s.Attr("property")
		if !strings.EqualFold(strings.TrimSpace(prop), tag) {
			return true
		}
		content, ok := s.Attr("content")
		if ok && content != "" {
			value, found = content, true
		}
		return false
	})
	return value, found
}
