package scan

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"

	"github.com/tdh8316/nameprobe/internal/data"
	"github.com/tdh8316/nameprobe/internal/httpx"
)

// Classify maps a response to a status:
//
//  1. e_code and e_string both match: Taken
//  2. m_code and m_string both match: Available
//  3. anything else: fallback
func Classify(sd data.SiteData, statusCode int, body string, fallback Status) Status {
	if statusCode == sd.ECode && strings.Contains(body, sd.EString) {
		return Taken
	}
	if statusCode == sd.MCode && strings.Contains(body, sd.MString) {
		return Available
	}
	return fallback
}

// Probe checks a single site. Transport and decoding failures are reported
// as an Error result, never returned.
func (s *Scanner) Probe(ctx context.Context, username string, sd data.SiteData) Result {
	url := sd.URLFor(username)
	res := Result{
		Site:    sd.Name,
		URL:     url,
		LogoURL: logoFor(url),
	}

	statusCode, body, err := s.fetch(ctx, url)
	if err != nil {
		res.Status = Error
		res.ErrorDetail = err.Error()
		return res
	}

	res.Status = Classify(sd, statusCode, body, s.cfg.Fallback)
	return res
}

func (s *Scanner) fetch(ctx context.Context, url string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	req, err := httpx.NewRequest(ctx, http.MethodGet, url, nil, s.cfg.UserAgent)
	if err != nil {
		return 0, "", err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := s.readBody(resp)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, body, nil
}

// readBody decodes the body into UTF-8 according to the declared charset.
func (s *Scanner) readBody(resp *http.Response) (string, error) {
	limited := io.LimitReader(resp.Body, s.cfg.MaxBodyBytes)
	r, err := charset.NewReader(limited, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", errors.Wrap(err, "decode body")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "read body")
	}
	return string(b), nil
}
