package cache

import (
	"io"
	"net/http"
	"strconv"
)

// hop-by-hop headers are not forwarded in either direction.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade", "Host", "Content-Length",
}

// SourceHeader reports which tier served a proxied response.
const SourceHeader = "X-Timepulse-Source"

// Handler serves every request by fetching the same path from the origin
// through Fetch.
func (c *Cache) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target, err := c.Resolve(r.URL.RequestURI())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var body []byte
		if r.Body != nil {
			body, err = io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		header := r.Header.Clone()
		for _, h := range hopHeaders {
			header.Del(h)
		}
		// let the transport negotiate compression so stored bodies are plain
		header.Del("Accept-Encoding")
		resp, err := c.Fetch(r.Context(), Request{
			Method: r.Method,
			URL:    target,
			Header: header,
			Body:   body,
		})
		if err != nil {
			// client went away
			return
		}
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		for _, h := range hopHeaders {
			w.Header().Del(h)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
		w.Header().Set(SourceHeader, resp.Source.String())
		w.WriteHeader(resp.Status)
		if r.Method != http.MethodHead {
			w.Write(resp.Body)
		}
	})
}
