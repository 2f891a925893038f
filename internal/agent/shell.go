package agent

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

type shellFile struct {
	Assets []string `yaml:"assets" toml:"assets"`
}

// LoadShell reads an app shell from a YAML or TOML file of the form
//
//	assets:
//	  - /
//	  - /index.html
func LoadShell(file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read shell file: %w", err)
	}

	var sf shellFile
	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &sf)
	case ".toml":
		err = toml.Unmarshal(data, &sf)
	default:
		return nil, fmt.Errorf("unsupported shell file format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse shell file %s: %w", file, err)
	}

	shell := make([]string, 0, len(sf.Assets))
	for _, a := range sf.Assets {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.HasPrefix(a, "/") {
			a = "/" + a
		}
		shell = append(shell, a)
	}
	if len(shell) == 0 {
		return nil, fmt.Errorf("shell file %s lists no assets", file)
	}
	return shell, nil
}

// ScanShell walks a build output directory and returns every file whose
// slash-separated relative path matches one of patterns. A matched root
// index.html also contributes "/".
func ScanShell(root string, patterns []string) ([]string, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	var (
		mu    sync.Mutex
		found []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				mu.Lock()
				found = append(found, "/"+rel)
				if rel == "index.html" {
					found = append(found, "/")
				}
				mu.Unlock()
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.Strings(found)
	return found, nil
}

// DiscoverShell extracts same-site asset references from an HTML document:
// scripts, stylesheets and other links, and images. Absolute URLs and
// protocol-relative references are skipped.
func DiscoverShell(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	seen := make(map[string]struct{})
	var shell []string
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" || strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "#") ||
			strings.Contains(ref, ":") {
			return
		}
		if i := strings.IndexAny(ref, "?#"); i >= 0 {
			ref = ref[:i]
		}
		p := path.Clean("/" + strings.TrimPrefix(ref, "./"))
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		shell = append(shell, p)
	}

	doc.Find("script[src]").Each(func(i int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
	})
	doc.Find("link[href]").Each(func(i int, s *goquery.Selection) {
		add(s.AttrOr("href", ""))
	})
	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
	})
	return shell, nil
}
