package cache

import (
	"net/http"
	"strconv"
	"time"
)

// Source tells where a Fetch response came from.
type Source int

const (
	SourceNetwork Source = iota
	SourceRuntime
	SourceVersioned
	SourceOffline
)

func (s Source) String() string {
	switch s {
	case SourceNetwork:
		return "network"
	case SourceRuntime:
		return "runtime"
	case SourceVersioned:
		return "versioned"
	case SourceOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Entry is a stored response snapshot keyed by absolute URL.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// ETag returns the entity tag header.
func (e *Entry) ETag() string {
	return e.Header.Get("ETag")
}

// LastModified returns the Last-Modified header.
func (e *Entry) LastModified() string {
	return e.Header.Get("Last-Modified")
}

// ContentLength returns the Content-Length header, falling back to the body
// size when the header is absent.
func (e *Entry) ContentLength() string {
	if v := e.Header.Get("Content-Length"); v != "" {
		return v
	}
	return strconv.Itoa(len(e.Body))
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}

// Response is what Fetch hands back to the caller.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

func (e *Entry) response(src Source) *Response {
	return &Response{Status: e.Status, Header: e.Header.Clone(), Body: e.Body, Source: src}
}
