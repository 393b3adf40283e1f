package crawl_engine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// defaultExcludeGlobs keep binary downloads and legal boilerplate out of every crawl.
var defaultExcludeGlobs = []string{
	"**/*.{pdf,doc,docx,xls,xlsx,ppt,pptx,odt,rtf,epub}",
	"**/*.{zip,tar,gz,tgz,rar,7z,dmg,exe,msi,apk,iso}",
	"**/*.{png,jpg,jpeg,gif,webp,svg,ico,bmp,tiff}",
	"**/*.{mp3,mp4,wav,avi,mov,webm,mkv}",
	"**/*.{css,js,json,xml,woff,woff2,ttf,eot}",
	"**/privacy*",
	"**/terms*",
	"**/legal*",
	"**/cookie*",
	"**/gdpr*",
	"**/imprint*",
	"**/disclaimer*",
	"**/login*",
	"**/signup*",
}

// excludeGlobs merges caller patterns with the defaults, keeping order and dropping duplicates.
func excludeGlobs(user []string) []string {
	seen := make(map[string]bool, len(defaultExcludeGlobs)+len(user))
	out := make([]string, 0, len(defaultExcludeGlobs)+len(user))
	for _, g := range append(append([]string(nil), defaultExcludeGlobs...), user...) {
		g = strings.TrimSpace(g)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

func cleanGlobs(in []string) []string {
	var out []string
	for _, g := range in {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// normalizeRootURL validates a website URL and returns it without fragment
// and trailing slash, plus its host.
func normalizeRootURL(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("%w: website url %q", core.ErrInvalidInput, raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), u.Hostname(), nil
}

// pageKey identifies a crawled URL regardless of fragment.
func pageKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

func pagePath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// dedupeItems drops repeated URLs and truncates to limit.
func dedupeItems(items []core.CrawledItem, limit int) []core.CrawledItem {
	seen := make(map[string]bool, len(items))
	out := make([]core.CrawledItem, 0, min(len(items), limit))
	for _, it := range items {
		if len(out) >= limit {
			break
		}
		key := pageKey(it.URL)
		if it.URL == "" || seen[key] {
			continue
		}
		seen[key] = true
		it.URL = key
		out = append(out, it)
	}
	return out
}
