package data

import (
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
)

// Filter keeps the sites whose name matches any of patterns, preserving
// catalog order. Patterns are case-insensitive regular expressions anchored to
// the whole name; a plain site name therefore matches only itself.
func Filter(sites []SiteData, patterns []string) ([]SiteData, []string, error) {
	var res []*regexp2.Regexp
	var raw []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp2.Compile("^(?:"+p+")$", regexp2.IgnoreCase)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "site pattern %q", p)
		}
		res = append(res, re)
		raw = append(raw, p)
	}
	if len(res) == 0 {
		return sites, nil, nil
	}

	used := make([]bool, len(res))
	out := make([]SiteData, 0, len(res))
	for _, sd := range sites {
		matched := false
		for i, re := range res {
			ok, err := re.MatchString(sd.Name)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "match %q", sd.Name)
			}
			if ok {
				used[i] = true
				matched = true
			}
		}
		if matched {
			out = append(out, sd)
		}
	}

	var unknown []string
	for i, ok := range used {
		if !ok {
			unknown = append(unknown, raw[i])
		}
	}
	return out, unknown, nil
}
