package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultMaxChars = 20000
	maxBodyBytes    = 2 << 20
	userAgent       = "Mozilla/5.0 (compatible; deepdive-tutor/1.0)"
)

// ErrBlockedAddress is returned when a page (or a redirect) resolves to a
// loopback, private, link-local or otherwise non-public address.
var ErrBlockedAddress = errors.New("webfetch: address not allowed")

// sharedAddressSpace is the carrier-grade NAT range, not covered by
// netip.Addr.IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Fetcher extracts the readable text of web pages for use as reference
// material.
type Fetcher struct {
	httpClient *http.Client
	maxChars   int
}

// New returns a Fetcher truncating results to maxChars runes (a default is
// used when maxChars <= 0). A nil httpClient selects one that only connects
// to public addresses; a caller-supplied client is used as-is.
func New(httpClient *http.Client, maxChars int) *Fetcher {
	if httpClient == nil {
		httpClient = publicOnlyClient()
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Fetcher{httpClient: httpClient, maxChars: maxChars}
}

// FetchReadableText downloads rawURL and returns its main text content.
func (f *Fetcher) FetchReadableText(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("webfetch: invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("webfetch: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	res, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("webfetch: fetch %s: %w", u, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("webfetch: fetch %s: status %d", u, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("webfetch: read body: %w", err)
	}

	var text string
	contentType := res.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		text = string(body)
	} else {
		text, err = readableText(string(body))
		if err != nil {
			return "", fmt.Errorf("webfetch: parse html: %w", err)
		}
	}

	text = cleanText(text)
	if text == "" {
		return "", errors.New("webfetch: page has no readable text")
	}
	return truncate(text, f.maxChars), nil
}

// publicOnlyClient checks every dialed address, so redirects and DNS answers
// pointing inside the network are refused too. Proxies are disabled because
// the check would otherwise only see the proxy.
func publicOnlyClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: refuseNonPublic}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: 20 * time.Second, Transport: transport}
}

func refuseNonPublic(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() &&
		!ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!sharedAddressSpace.Contains(ip)
}

// readableText picks the main content element (article, then main, then
// body) and flattens it to text.
func readableText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	root := doc
	for _, tag := range []string{"article", "main", "body"} {
		if n := findElement(doc, tag); n != nil {
			root = n
			break
		}
	}
	var sb strings.Builder
	extractText(root, &sb, 0)
	return sb.String(), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 200 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "header", "footer", "aside", "form":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "section", "li", "tr", "pre", "blockquote":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(multiSpacePattern.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "\n\n[...truncated...]"
}
