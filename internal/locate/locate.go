// Package locate finds the document link on a listing page.
package locate

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/registry-sync/internal/fetcher"
	"github.com/sells-group/registry-sync/internal/model"
)

// DefaultTimeout bounds the listing page fetch.
const DefaultTimeout = 10 * time.Second

// Locator fetches a listing page and returns the first anchor carrying a
// given attribute.
type Locator struct {
	fetcher fetcher.Fetcher
	timeout time.Duration
}

// New creates a Locator. A zero timeout means DefaultTimeout.
func New(f fetcher.Fetcher, timeout time.Duration) *Locator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Locator{fetcher: f, timeout: timeout}
}

// Locate fetches pageURL and returns the absolute href of the first <a>
// element that has attribute set (any value) and a non-empty href.
func (l *Locator) Locate(ctx context.Context, pageURL, attribute string, headers map[string]string) (string, error) {
	log := zap.L().With(zap.String("component", "locate"), zap.String("page_url", pageURL))

	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", eris.Wrapf(model.ErrInvalidInput, "locate: invalid page url %q", pageURL)
	}
	if strings.TrimSpace(attribute) == "" {
		return "", eris.Wrap(model.ErrInvalidInput, "locate: attribute name is required")
	}

	resp, err := l.fetcher.Get(ctx, fetcher.Request{URL: pageURL, Headers: headers, Timeout: l.timeout})
	if err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) {
			if block := DetectBlock(se.StatusCode, se.Header, se.Body); block != BlockNone {
				return "", eris.Wrapf(model.ErrFetch, "locate: GET %s: status %d, blocked (%s)", pageURL, se.StatusCode, block)
			}
		}
		return "", eris.Wrapf(model.ErrFetch, "locate: GET %s: %v", pageURL, err)
	}

	// Relative links resolve against pageURL as given, even after a redirect.
	doc, err := parseHTML(resp.Body, resp.ContentType)
	if err != nil {
		return "", eris.Wrapf(model.ErrFetch, "locate: parse %s: %v", pageURL, err)
	}

	link, ok := FindLink(doc, base, attribute)
	if !ok {
		if block := DetectBlock(resp.StatusCode, resp.Header, resp.Body); block != BlockNone {
			return "", eris.Wrapf(model.ErrLinkNotFound, "locate: no <a %s> with href on %s, page looks blocked (%s)", attribute, pageURL, block)
		}
		return "", eris.Wrapf(model.ErrLinkNotFound, "locate: no <a %s> with href on %s", attribute, pageURL)
	}

	log.Info("locate: found document link", zap.String("url", link))
	return link, nil
}

func parseHTML(body []byte, contentType string) (*html.Node, error) {
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	return html.Parse(enc.NewDecoder().Reader(bytes.NewReader(body)))
}

// FindLink walks doc in document order and returns the first anchor carrying
// attribute with a non-empty href, resolved against base.
func FindLink(doc *html.Node, base *url.URL, attribute string) (string, bool) {
	attribute = strings.ToLower(strings.TrimSpace(attribute))

	var found string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href, ok := anchorHref(n, attribute); ok {
				if ref, err := url.Parse(href); err == nil {
					found = base.ResolveReference(ref).String()
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if walk(doc) {
		return found, true
	}
	return "", false
}

func anchorHref(n *html.Node, attribute string) (string, bool) {
	var hasAttr bool
	var href string
	for _, a := range n.Attr {
		if a.Namespace != "" {
			continue
		}
		switch a.Key {
		case attribute:
			hasAttr = true
		case "href":
			href = strings.TrimSpace(a.Val)
		}
	}
	if attribute == "href" {
		hasAttr = true
	}
	return href, hasAttr && href != ""
}
