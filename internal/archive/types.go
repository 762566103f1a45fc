package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ScreenshotStatus is the terminal (or initial) capture state of a record.
type ScreenshotStatus string

// Screenshot status values written into the report.
const (
	ScreenshotPending ScreenshotStatus = "pending"
	ScreenshotSuccess ScreenshotStatus = "success"
	ScreenshotFailed  ScreenshotStatus = "failed"
	ScreenshotSkipped ScreenshotStatus = "skipped"
)

// OpenGraph tag names extracted from every fetched page.
const (
	TagTitle       = "og:title"
	TagDescription = "og:description"
	TagType        = "og:type"
	TagSiteName    = "og:site_name"
)

// SocialTags lists the extracted tags in report order.
var SocialTags = []string{TagTitle, TagDescription, TagType, TagSiteName}

const errorPrefix = "Error: "

// Placeholder is used for title/description/url when the search hit omits them.
const Placeholder = "-"

// CandidateItem is one raw search hit.
type CandidateItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// UnmarshalJSON accepts both the archive field names and the search
// provider's native {title, href, body} shape.
func (c *CandidateItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Href    string `json:"href"`
		Snippet string `json:"snippet"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err //nolint:wrapcheck // decoding error is self-describing
	}
	c.Title = raw.Title
	c.URL = firstNonEmpty(raw.URL, raw.Href)
	c.Snippet = firstNonEmpty(raw.Snippet, raw.Body)
	return nil
}

// Metadata maps an OpenGraph tag name to its value. A nil value means the tag
// was absent and is encoded as JSON null.
type Metadata map[string]*string

// NewMetadata returns a metadata map with every social tag absent.
func NewMetadata() Metadata {
	m := make(Metadata, len(SocialTags))
	for _, tag := range SocialTags {
		m[tag] = nil
	}
	return m
}

// ErrorMetadata fills every social tag with the same error placeholder.
func ErrorMetadata(err error) Metadata {
	msg := errorPrefix + err.Error()
	m := make(Metadata, len(SocialTags))
	for _, tag := range SocialTags {
		v := msg
		m[tag] = &v
	}
	return m
}

// IsError reports whether m carries a fetch error placeholder.
func (m Metadata) IsError() bool {
	v, ok := m.Value(TagTitle)
	return ok && strings.HasPrefix(v, errorPrefix)
}

// Value returns the tag value and whether it is present.
func (m Metadata) Value(tag string) (string, bool) {
	v, ok := m[tag]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// MarshalJSON writes the social tags in SocialTags order, followed by any
// other keys sorted by name. HTML characters are left unescaped.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	keys := make([]string, 0, len(m))
	known := make(map[string]bool, len(SocialTags))
	for _, tag := range SocialTags {
		known[tag] = true
		if _, ok := m[tag]; ok {
			keys = append(keys, tag)
		}
	}
	var extra []string
	for k := range m {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	encode := func(v any) ([]byte, error) {
		buf.Reset()
		if err := enc.Encode(v); err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), nil
	}

	out := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		key, err := encode(k)
		if err != nil {
			return nil, fmt.Errorf("encode metadata key: %w", err)
		}
		out = append(out, key...)
		out = append(out, ':')
		val, err := encode(m[k])
		if err != nil {
			return nil, fmt.Errorf("encode metadata %q: %w", k, err)
		}
		out = append(out, val...)
	}
	return append(out, '}'), nil
}

// ResultRecord is one accepted candidate after enrichment.
type ResultRecord struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	URL              string           `json:"url"`
	Domain           string           `json:"domain"`
	Description      string           `json:"description"`
	Metadata         Metadata         `json:"og_metadata"`
	ScreenshotStatus ScreenshotStatus `json:"screenshot_status"`
}

// NewRecord builds the pending record for candidate under id. Missing text
// fields get the placeholder and the domain is derived from the URL.
func NewRecord(candidate CandidateItem, id int) ResultRecord {
	url := orPlaceholder(candidate.URL)
	return ResultRecord{
		ID:               FormatID(id),
		Title:            orPlaceholder(candidate.Title),
		URL:              url,
		Domain:           ExtractDomain(url),
		Description:      orPlaceholder(candidate.Snippet),
		Metadata:         NewMetadata(),
		ScreenshotStatus: ScreenshotPending,
	}
}

func orPlaceholder(v string) string {
	if v == "" {
		return Placeholder
	}
	return v
}

// HasCapturableURL reports whether a capture should be attempted.
func (r ResultRecord) HasCapturableURL() bool {
	return r.URL != "" && r.URL != Placeholder
}

// ReportMetadata is the header block of a report.
type ReportMetadata struct {
	TotalRecords int    `json:"total_records"`
	GeneratedAt  string `json:"generated_at"`
	Version      string `json:"version"`
	Keyword      string `json:"keyword"`
}

// Report is the single durable artifact of a run.
type Report struct {
	Metadata ReportMetadata `json:"metadata"`
	Data     []ResultRecord `json:"data"`
}

// RunSummary captures counters and artifact locations for a completed run.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Keyword        string    `json:"keyword"`
	FirstID        string    `json:"first_id"`
	LastID         string    `json:"last_id"`
	TotalRecords   int       `json:"total_records"`
	Blocked        int       `json:"blocked"`
	Duplicates     int       `json:"duplicates"`
	FetchFailed    int       `json:"fetch_failed"`
	ScreenshotsOK  int       `json:"screenshots_success"`
	ScreenshotsBad int       `json:"screenshots_failed"`
	ScreenshotsNA  int       `json:"screenshots_skipped"`
	NewDomains     []string  `json:"new_domains"`
	ReportURI      string    `json:"report_uri"`
	ReportSHA256   string    `json:"report_sha256"`
	GeneratedAt    time.Time `json:"generated_at"`
	Duration       string    `json:"duration"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
