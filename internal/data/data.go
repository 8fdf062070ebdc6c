package data

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// DefaultDataURL points at the WhatsMyName catalog.
const DefaultDataURL = "https://raw.githubusercontent.com/WebBreacher/WhatsMyName/main/wmn-data.json"

// Placeholder is substituted by the username in SiteData.URICheck.
const Placeholder = "{account}"

var ErrPlaceholder = errors.New("uri_check must contain exactly one " + Placeholder + " placeholder")

// SiteData describes how to check a single site.
type SiteData struct {
	Name     string `json:"name"`
	URICheck string `json:"uri_check"`

	// ECode/EString signal an existing account, MCode/MString a missing one.
	ECode   int    `json:"e_code"`
	EString string `json:"e_string"`
	MCode   int    `json:"m_code"`
	MString string `json:"m_string"`

	Known []string `json:"known"`
	Cat   string   `json:"cat"`
}

// URLFor returns the check URL for username.
func (sd SiteData) URLFor(username string) string {
	return strings.Replace(sd.URICheck, Placeholder, username, 1)
}

func (sd SiteData) Validate() error {
	if strings.TrimSpace(sd.Name) == "" {
		return errors.New("missing name")
	}
	if strings.Count(sd.URICheck, Placeholder) != 1 {
		return ErrPlaceholder
	}
	return nil
}

// SitesFile is the top-level catalog document.
type SitesFile struct {
	License    []string   `json:"license"`
	Authors    []string   `json:"authors"`
	Categories []string   `json:"categories"`
	Sites      []SiteData `json:"sites"`
}

// Validate reports the first malformed site entry.
func (f *SitesFile) Validate() error {
	for i, sd := range f.Sites {
		if err := sd.Validate(); err != nil {
			return errors.Wrapf(err, "site #%d %q", i, sd.Name)
		}
	}
	return nil
}

// LoadSites reads and validates a catalog file.
func LoadSites(filename string) (*SitesFile, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sites, err := ParseSites(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", filename)
	}
	return sites, nil
}

func ParseSites(r io.Reader) (*SitesFile, error) {
	var out SitesFile
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "parse json")
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UpdateFromRemote downloads the catalog at dataURL into destPath. The existing
// file is only replaced when the payload looks like a catalog.
func UpdateFromRemote(ctx context.Context, client Doer, userAgent, dataURL, destPath string) error {
	if dataURL == "" {
		dataURL = DefaultDataURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dataURL, nil)
	if err != nil {
		return err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a small snippet for diagnostics.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("download failed: %s (%s)", resp.Status, string(snippet))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	if !gjson.ValidBytes(body) || !gjson.GetBytes(body, "sites").IsArray() {
		return errors.New("downloaded catalog has no sites array")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	tmp := destPath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, destPath)
}
