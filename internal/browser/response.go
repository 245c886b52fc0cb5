package browser

import (
	"mime"
	"strings"
	"sync"
)

// Response is an HTTP response observed by the browser, either the main
// document of a navigation or an explicit fetch
type Response struct {
	URL     string
	Status  int
	Headers map[string]string

	once sync.Once
	load func() ([]byte, error)
	body []byte
	err  error
}

// NewResponse builds a response whose body is loaded lazily by load
func NewResponse(url string, status int, headers map[string]string, load func() ([]byte, error)) *Response {
	lower := make(map[string]string, len(headers))
	for k, v := range headers {
		lower[strings.ToLower(k)] = v
	}
	return &Response{URL: url, Status: status, Headers: lower, load: load}
}

// Header returns the value of a header, case-insensitively
func (r *Response) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ContentType returns the media type without parameters
func (r *Response) ContentType() string {
	raw := r.Header("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.TrimSpace(strings.SplitN(raw, ";", 2)[0])
	}
	return mediaType
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Body returns the response body, loading it on first use
func (r *Response) Body() ([]byte, error) {
	r.once.Do(func() {
		if r.load == nil {
			return
		}
		r.body, r.err = r.load()
	})
	return r.body, r.err
}
