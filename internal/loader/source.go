package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Bundle is what HTTPSource yields for a fetched path.
type Bundle struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	FetchedAt time.Time `json:"fetched_at"`
}

// HTTPSource fetches bundles from a static asset server.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPSource(baseURL string, httpClient *http.Client) *HTTPSource {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, path string) (Module, error) {
	url := fmt.Sprintf("%s/%s", s.baseURL, strings.TrimLeft(path, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	h := sha256.New()
	n, err := io.Copy(h, resp.Body)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Path:      path,
		Size:      n,
		Digest:    hex.EncodeToString(h.Sum(nil)),
		FetchedAt: time.Now(),
	}, nil
}

// FromPaths builds a registry whose loaders fetch the given paths through l.
func FromPaths(l *Loader, paths map[string][]string) Registry {
	r := make(Registry, len(paths))
	for feature, ps := range paths {
		key := featureKey(feature)
		for _, p := range ps {
			r[key] = append(r[key], l.Bundle(p))
		}
	}
	return r
}
