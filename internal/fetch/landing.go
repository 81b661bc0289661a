package fetch

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxLandingPageSize caps how much of an HTML response is parsed for links.
const maxLandingPageSize = 4 << 20

var archiveSuffixes = []string{".zip", ".tar.gz", ".tgz", ".tar"}

// ResolveArchiveLink returns the first anchor in an HTML document whose path
// ends in a known archive suffix, resolved against base. It returns "" when the
// page has no such link.
func ResolveArchiveLink(r io.Reader, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(r, maxLandingPageSize))
	if err != nil {
		return "", fmt.Errorf("failed to parse landing page: %w", err)
	}

	var link string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		resolved := ref
		if base != nil {
			resolved = base.ResolveReference(ref)
		}
		if !hasArchiveSuffix(resolved.Path) {
			return true
		}
		link = resolved.String()
		return false
	})

	return link, nil
}

func hasArchiveSuffix(p string) bool {
	name := strings.ToLower(path.Base(p))
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func resolveFromFile(htmlPath string, base *url.URL) (string, error) {
	f, err := os.Open(htmlPath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return ResolveArchiveLink(f, base)
}
