package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tdh8316/nameprobe/internal/scan"
)

type Format string

const (
	FormatText Format = "txt"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", errors.Errorf("unsupported output format %q", s)
	}
}

// Report is assembled once after a scan; results keep completion order.
type Report struct {
	Username    string
	GeneratedAt time.Time
	Results     []scan.Result
}

func New(username string, results []scan.Result) Report {
	return Report{
		Username:    username,
		GeneratedAt: time.Now(),
		Results:     results,
	}
}

type jsonResult struct {
	Site    string      `json:"site"`
	Status  scan.Status `json:"status"`
	URL     string      `json:"url"`
	LogoURL string      `json:"logo_url"`
	Error   *string     `json:"error"`
}

type jsonReport struct {
	Username    string       `json:"username"`
	GeneratedAt string       `json:"generated_at"`
	Results     []jsonResult `json:"results"`
}

func (r Report) MarshalJSON() ([]byte, error) {
	out := jsonReport{
		Username:    r.Username,
		GeneratedAt: r.GeneratedAt.Format(time.RFC3339),
		Results:     make([]jsonResult, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		jr := jsonResult{
			Site:    res.Site,
			Status:  res.Status,
			URL:     res.URL,
			LogoURL: res.LogoURL,
		}
		if res.ErrorDetail != "" {
			detail := res.ErrorDetail
			jr.Error = &detail
		}
		out.Results = append(out.Results, jr)
	}
	return json.Marshal(out)
}

func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Username availability report for: %s\n", r.Username)
	fmt.Fprintf(&b, "Generated on: %s\n", r.GeneratedAt.Format(time.RFC1123Z))
	b.WriteString(strings.Repeat("-", 80) + "\n")

	for _, res := range r.Results {
		fmt.Fprintf(&b, "%s: %s\n", res.Site, res.Status)
		fmt.Fprintf(&b, "URL: %s\n", res.URL)
		fmt.Fprintf(&b, "Logo: %s\n", res.LogoURL)
		if res.ErrorDetail != "" {
			fmt.Fprintf(&b, "Error: %s\n", res.ErrorDetail)
		}
		b.WriteString(strings.Repeat("-", 40) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func Write(w io.Writer, r Report, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatText:
		return WriteText(w, r)
	default:
		return errors.Errorf("unsupported output format %q", format)
	}
}

// Filename is the report file name for username and format.
func Filename(username string, format Format) string {
	return fmt.Sprintf("%s_report.%s", username, format)
}

// Save writes the report into dir and returns the written path.
func Save(dir string, r Report, format Format) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create results dir %q", dir)
	}
	path := filepath.Join(dir, Filename(r.Username, format))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "create report")
	}
	if err := Write(f, r, format); err != nil {
		_ = f.Close()
		return "", errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", path)
	}
	return path, nil
}
