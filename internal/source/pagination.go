// Copyright 2025 James Ross
package source

import (
	"net/http"
	"strconv"

	"github.com/regulens/ingestion-engine/internal/model"
)

// Paginator advances an HTTP request to the next page and reports whether
// another page should be fetched, given the previous response body and
// how many records it yielded.
type Paginator interface {
	// Prepare mutates req in place for the page about to be fetched.
	Prepare(req *http.Request, pageIndex int)
	// HasNext inspects the decoded response headers/body to decide whether
	// to continue paginating.
	HasNext(resp *http.Response, recordsInPage int) bool
}

// NewPaginator builds the paginator named by cfg.Mode.
func NewPaginator(cfg model.PaginationConfig) Paginator {
	switch cfg.Mode {
	case "page_number":
		return &pageNumberPaginator{cfg: cfg}
	case "cursor_token":
		return &cursorTokenPaginator{cfg: cfg}
	case "link_header":
		return &linkHeaderPaginator{}
	default:
		return &offsetLimitPaginator{cfg: cfg}
	}
}

type offsetLimitPaginator struct {
	cfg model.PaginationConfig
}

func (p *offsetLimitPaginator) Prepare(req *http.Request, pageIndex int) {
	limit := p.cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	offsetParam := p.cfg.OffsetParam
	if offsetParam == "" {
		offsetParam = "offset"
	}
	q := req.URL.Query()
	q.Set(offsetParam, strconv.Itoa(pageIndex*limit))
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()
}

func (p *offsetLimitPaginator) HasNext(resp *http.Response, recordsInPage int) bool {
	limit := p.cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	return recordsInPage >= limit
}

type pageNumberPaginator struct {
	cfg model.PaginationConfig
}

func (p *pageNumberPaginator) Prepare(req *http.Request, pageIndex int) {
	pageParam := p.cfg.PageParam
	if pageParam == "" {
		pageParam = "page"
	}
	q := req.URL.Query()
	q.Set(pageParam, strconv.Itoa(pageIndex+1))
	req.URL.RawQuery = q.Encode()
}

func (p *pageNumberPaginator) HasNext(resp *http.Response, recordsInPage int) bool {
	return recordsInPage > 0
}

// cursorTokenPaginator carries the next-page cursor from one response's
// body (extracted by the caller and passed back via SetCursor) into the
// next request's query string.
type cursorTokenPaginator struct {
	cfg    model.PaginationConfig
	cursor string
}

func (p *cursorTokenPaginator) Prepare(req *http.Request, pageIndex int) {
	if p.cursor == "" {
		return
	}
	param := p.cfg.CursorParam
	if param == "" {
		param = "cursor"
	}
	q := req.URL.Query()
	q.Set(param, p.cursor)
	req.URL.RawQuery = q.Encode()
}

func (p *cursorTokenPaginator) HasNext(resp *http.Response, recordsInPage int) bool {
	return p.cursor != ""
}

// SetCursor records the cursor extracted from the last response body.
func (p *cursorTokenPaginator) SetCursor(cursor string) { p.cursor = cursor }

type linkHeaderPaginator struct {
	nextURL string
}

func (p *linkHeaderPaginator) Prepare(req *http.Request, pageIndex int) {
	if p.nextURL == "" {
		return
	}
	if u, err := req.URL.Parse(p.nextURL); err == nil {
		req.URL = u
	}
}

func (p *linkHeaderPaginator) HasNext(resp *http.Response, recordsInPage int) bool {
	next := parseLinkHeader(resp.Header.Get("Link"))
	p.nextURL = next
	return next != ""
}

// parseLinkHeader extracts rel="next" from an RFC 5988 Link header.
func parseLinkHeader(header string) string {
	for _, part := range splitComma(header) {
		url, rel := splitLinkPart(part)
		if rel == "next" {
			return url
		}
	}
	return ""
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func splitLinkPart(part string) (url, rel string) {
	lt, gt := -1, -1
	for i, c := range part {
		if c == '<' && lt == -1 {
			lt = i
		}
		if c == '>' {
			gt = i
			break
		}
	}
	if lt >= 0 && gt > lt {
		url = part[lt+1 : gt]
	}
	if idx := indexOf(part, `rel="`); idx >= 0 {
		rest := part[idx+len(`rel="`):]
		if end := indexOf(rest, `"`); end >= 0 {
			rel = rest[:end]
		}
	}
	return url, rel
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
