package script

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
)

// DefaultImportName names imported records whose source carries no name.
const DefaultImportName = "Imported Script"

// maxImportSize bounds a fetched script body.
const maxImportSize = 1 << 20

var gistRe = regexp.MustCompile(`^https?://gist\.github\.com/([^/]+)/(\w+)/?$`)

// GistAPI is the endpoint used to resolve gist URLs. Swapped in tests.
var GistAPI = "https://api.github.com/gists/"

// Import fetches url and parses it with ParseRecord. Gist page URLs are
// resolved through the GitHub API and take the first non-empty file. The
// returned record carries url and is therefore read-only.
func Import(ctx context.Context, client *http.Client, url string) (Record, error) {
	if client == nil {
		client = http.DefaultClient
	}

	name := DefaultImportName
	var author, text string

	if m := gistRe.FindStringSubmatch(url); m != nil {
		g, err := fetchGist(ctx, client, m[2])
		if err != nil {
			return Record{}, fmt.Errorf("import %s: %w", url, err)
		}
		author = g.Owner.Login
		filenames := make([]string, 0, len(g.Files))
		for fn := range g.Files {
			filenames = append(filenames, fn)
		}
		sort.Strings(filenames)
		for _, fn := range filenames {
			if g.Files[fn].Content != "" {
				name = fn
				text = g.Files[fn].Content
				break
			}
		}
		if text == "" {
			return Record{}, fmt.Errorf("import %s: gist has no file content", url)
		}
	} else {
		body, err := fetch(ctx, client, url)
		if err != nil {
			return Record{}, fmt.Errorf("import %s: %w", url, err)
		}
		text = string(body)
	}

	rec, err := ParseRecord(text)
	if err != nil {
		return Record{}, fmt.Errorf("import %s: %w", url, err)
	}
	if rec.Name == "" {
		rec.Name = name
	}
	if rec.Author == "" {
		rec.Author = author
	}
	rec.URL = url
	return rec, nil
}

type gist struct {
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	Files map[string]struct {
		Content string `json:"content"`
	} `json:"files"`
}

func fetchGist(ctx context.Context, client *http.Client, id string) (*gist, error) {
	body, err := fetch(ctx, client, GistAPI+id)
	if err != nil {
		return nil, err
	}
	var g gist
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("decode gist: %w", err)
	}
	return &g, nil
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImportSize))
}
