package data_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tdh8316/nameprobe/internal/data"
)

const catalog = `{
  "license": ["CC BY-SA 4.0"],
  "authors": ["someone"],
  "categories": ["coding", "social"],
  "sites": [
    {"name": "GitHub", "uri_check": "https://github.com/{account}", "e_code": 200, "e_string": "p-nickname", "m_code": 404, "m_string": "Not Found", "known": ["torvalds"], "cat": "coding"},
    {"name": "GitLab", "uri_check": "https://gitlab.com/{account}", "e_code": 200, "e_string": "user-profile", "m_code": 404, "m_string": "", "known": [], "cat": "coding"},
    {"name": "Telegram", "uri_check": "https://t.me/{account}", "e_code": 200, "e_string": "tgme_page_title", "m_code": 200, "m_string": "tgme_page_description", "known": ["durov"], "cat": "social"}
  ]
}`

func TestParseSites(t *testing.T) {
	sites, err := data.ParseSites(strings.NewReader(catalog))
	require.NoError(t, err)
	require.Len(t, sites.Sites, 3)
	require.Equal(t, []string{"coding", "social"}, sites.Categories)

	gh := sites.Sites[0]
	require.Equal(t, "GitHub", gh.Name)
	require.Equal(t, 200, gh.ECode)
	require.Equal(t, "Not Found", gh.MString)
	require.Equal(t, []string{"torvalds"}, gh.Known)
	require.Equal(t, "https://github.com/alice", gh.URLFor("alice"))
}

func TestParseSitesRejectsBadPlaceholder(t *testing.T) {
	for _, uri := range []string{"https://example.com/user", "https://example.com/{account}/{account}"} {
		doc := `{"sites":[{"name":"Example","uri_check":"` + uri + `"}]}`
		_, err := data.ParseSites(strings.NewReader(doc))
		require.Error(t, err, uri)
		require.ErrorIs(t, err, data.ErrPlaceholder)
	}
}

func TestParseSitesMalformed(t *testing.T) {
	_, err := data.ParseSites(strings.NewReader(`{"sites": [`))
	require.Error(t, err)
}

func TestLoadSites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))

	sites, err := data.LoadSites(path)
	require.NoError(t, err)
	require.Len(t, sites.Sites, 3)

	_, err = data.LoadSites(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestFilter(t *testing.T) {
	sites, err := data.ParseSites(strings.NewReader(catalog))
	require.NoError(t, err)

	out, unknown, err := data.Filter(sites.Sites, []string{"github", "git.*", "mastodon"})
	require.NoError(t, err)
	require.Equal(t, []string{"mastodon"}, unknown)
	require.Len(t, out, 2)
	require.Equal(t, "GitHub", out[0].Name)
	require.Equal(t, "GitLab", out[1].Name)

	out, unknown, err = data.Filter(sites.Sites, nil)
	require.NoError(t, err)
	require.Empty(t, unknown)
	require.Len(t, out, 3)

	_, _, err = data.Filter(sites.Sites, []string{"("})
	require.Error(t, err)
}

func TestUpdateFromRemote(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		switch r.URL.Path {
		case "/ok.json":
			_, _ = w.Write([]byte(catalog))
		case "/bogus.json":
			_, _ = w.Write([]byte(`{"hello": "world"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "nested", "sites.json")

	err := data.UpdateFromRemote(t.Context(), srv.Client(), "probe-agent", srv.URL+"/ok.json", dest)
	require.NoError(t, err)
	require.Equal(t, "probe-agent", gotUA)
	sites, err := data.LoadSites(dest)
	require.NoError(t, err)
	require.Len(t, sites.Sites, 3)

	err = data.UpdateFromRemote(t.Context(), srv.Client(), "", srv.URL+"/bogus.json", dest)
	require.Error(t, err)

	err = data.UpdateFromRemote(t.Context(), srv.Client(), "", srv.URL+"/missing.json", dest)
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")

	// failed updates keep the previous file
	sites, err = data.LoadSites(dest)
	require.NoError(t, err)
	require.Len(t, sites.Sites, 3)
}
