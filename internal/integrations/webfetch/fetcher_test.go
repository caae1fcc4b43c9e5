package webfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, contentType, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// localClient reaches httptest servers, which the default client refuses.
func localClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func TestFetchReadableText_PrefersArticle(t *testing.T) {
	page := `<html><head><title>T</title><script>var x = 1;</script></head>
<body>
  <nav>Home | About</nav>
  <header>Site header</header>
  <article>
    <h1>Photosynthesis</h1>
    <p>Plants   convert light into <b>chemical</b> energy.</p>
    <aside>Ad</aside>
    <ul><li>Chlorophyll</li><li>Stomata</li></ul>
  </article>
  <footer>Copyright</footer>
</body></html>`
	srv := serve(t, "text/html; charset=utf-8", page, http.StatusOK)

	text, err := New(localClient(), 0).FetchReadableText(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, text, "Photosynthesis")
	require.Contains(t, text, "Plants convert light into chemical energy.")
	require.Contains(t, text, "Chlorophyll")
	for _, unwanted := range []string{"Home", "Site header", "Copyright", "var x", "Ad"} {
		require.NotContains(t, text, unwanted)
	}
	require.NotContains(t, text, "\n\n\n")
}

func TestFetchReadableText_FallsBackToBody(t *testing.T) {
	srv := serve(t, "text/html", `<html><body><div>Just a body</div></body></html>`, http.StatusOK)

	text, err := New(localClient(), 0).FetchReadableText(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "Just a body", text)
}

func TestFetchReadableText_PlainText(t *testing.T) {
	srv := serve(t, "text/plain", "line one\n\n\n\nline two", http.StatusOK)

	text, err := New(localClient(), 0).FetchReadableText(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "line one\n\nline two", text)
}

func TestFetchReadableText_Truncates(t *testing.T) {
	srv := serve(t, "text/plain", strings.Repeat("あ", 50), http.StatusOK)

	text, err := New(localClient(), 10).FetchReadableText(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, strings.Repeat("あ", 10)+"\n\n"))
	require.Contains(t, text, "truncated")
}

func TestFetchReadableText_Errors(t *testing.T) {
	f := New(localClient(), 0)

	_, err := f.FetchReadableText(context.Background(), "ftp://example.com/x")
	require.ErrorContains(t, err, "invalid url")

	notFound := serve(t, "text/html", "nope", http.StatusNotFound)
	_, err = f.FetchReadableText(context.Background(), notFound.URL)
	require.ErrorContains(t, err, "404")

	empty := serve(t, "text/html", "<html><body><script>x()</script></body></html>", http.StatusOK)
	_, err = f.FetchReadableText(context.Background(), empty.URL)
	require.ErrorContains(t, err, "no readable text")
}

func TestFetchReadableText_RefusesInternalAddresses(t *testing.T) {
	srv := serve(t, "text/plain", "INTERNAL-ONLY secret=hunter2", http.StatusOK)
	f := New(nil, 0)

	text, err := f.FetchReadableText(context.Background(), srv.URL+"/admin")
	require.ErrorIs(t, err, ErrBlockedAddress)
	require.Empty(t, text)

	redirect := httptest.NewServer(http.RedirectHandler(srv.URL+"/admin", http.StatusFound))
	t.Cleanup(redirect.Close)
	_, err = f.FetchReadableText(context.Background(), redirect.URL)
	require.ErrorIs(t, err, ErrBlockedAddress)
}

func TestIsPublic(t *testing.T) {
	cases := map[string]bool{
		"93.184.216.34":        true,
		"2606:4700::1111":      true,
		"127.0.0.1":            false,
		"10.1.2.3":             false,
		"172.16.0.1":           false,
		"192.168.1.1":          false,
		"169.254.169.254":      false,
		"100.64.0.1":           false,
		"0.0.0.0":              false,
		"::1":                  false,
		"fe80::1":              false,
		"fd00::1":              false,
		"::ffff:127.0.0.1":     false,
		"::ffff:93.184.216.34": true,
	}
	for addr, want := range cases {
		require.Equal(t, want, isPublic(netip.MustParseAddr(addr)), addr)
	}
}
