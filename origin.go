package respcache

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// Origin forwards requests to an upstream server. It is the http.Handler
// to wrap with Middleware when deploying the cache as a standalone
// proxy. A transport-level failure surfaces as 502 Bad Gateway, which
// the middleware's fallback path may replace with a stale entry.
type Origin struct {
	url    *url.URL
	host   string
	client http.Client
}

// NewOrigin creates an origin handler for the given upstream URL.
// If host is not empty it overrides the Host header and the TLS server
// name; use it when the URL is just an IP address.
func NewOrigin(originURL *url.URL, host string) *Origin {
	o := &Origin{
		url:  originURL,
		host: host,
		client: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if host != "" {
		o.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
	return o
}

// ServeHTTP implements the http.Handler interface.
func (o *Origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, err := o.fetch(r)
	if err != nil {
		log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not fetch response from origin")
		http.Error(w, "Error contacting origin", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	copyOriginHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		log.Error().Err(err).Msg("Could not write origin response to client")
	}
}

// fetch performs the upstream request for r.
func (o *Origin) fetch(r *http.Request) (*http.Response, error) {
	uri := o.url.String() + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	if o.host != "" {
		req.Host = o.host
	}
	copyOriginHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	return o.client.Do(req)
}

func copyOriginHeader(dst, src http.Header) {
	for k, vv := range src {
		// strip headers set by an upstream proxy, some servers do not
		// like seeing them again
		if k == "X-Forwarded-For" || k == "X-Forwarded-Proto" || k == "X-Forwarded-Host" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
