package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPosterRemoteURL(t *testing.T) {
	result := map[string]interface{}{
		"images": []interface{}{
			map[string]interface{}{"coverType": "fanart", "remoteUrl": "https://example.com/fanart.jpg"},
			map[string]interface{}{"coverType": "poster", "remoteUrl": "https://example.com/poster.jpg"},
		},
	}
	if got := posterRemoteURL(result); got != "https://example.com/poster.jpg" {
		t.Fatalf("expected poster url, got %q", got)
	}
}

func TestPosterRemoteURLMissing(t *testing.T) {
	if got := posterRemoteURL(map[string]interface{}{}); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestSanitizeThumbName(t *testing.T) {
	if got := sanitizeThumbName("movie 157336!"); got != "movie_157336_" {
		t.Fatalf("unexpected sanitized name: %q", got)
	}
}

func TestIntArg(t *testing.T) {
	if n, ok := intArg(float64(42)); !ok || n != 42 {
		t.Fatalf("expected 42, got %d ok=%v", n, ok)
	}
	if _, ok := intArg("not a number"); ok {
		t.Fatal("expected ok=false for non-numeric value")
	}
}

func TestMediaToolLookupReturnsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/api/v3/movie/lookup") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "key" {
			t.Fatal("missing api key header")
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"title": "Interstellar", "year": 2014, "tmdbId": 157336},
		})
	}))
	defer srv.Close()

	mt := NewMediaTool(srv.URL, "key", "", "")
	res, err := mt.Execute(context.Background(), map[string]interface{}{
		"service": "radarr", "operation": "lookup", "query": "interstellar",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Interstellar") {
		t.Fatalf("expected result to contain title, got %s", res.ForLLM)
	}
}

func TestMediaToolAddAutoSelectsProfileAndFolder(t *testing.T) {
	var addedBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/movie/lookup/tmdb"):
			json.NewEncoder(w).Encode(map[string]interface{}{"title": "Interstellar", "year": 2014})
		case strings.Contains(r.URL.Path, "/qualityprofile"):
			json.NewEncoder(w).Encode([]map[string]interface{}{{"id": 4, "name": "HD-1080p"}})
		case strings.Contains(r.URL.Path, "/rootfolder"):
			json.NewEncoder(w).Encode([]map[string]interface{}{{"id": 1, "path": "/movies"}})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/api/v3/movie"):
			json.NewDecoder(r.Body).Decode(&addedBody)
			json.NewEncoder(w).Encode(map[string]interface{}{"id": 99})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	mt := NewMediaTool(srv.URL, "key", "", "")
	res, err := mt.Execute(context.Background(), map[string]interface{}{
		"service": "radarr", "operation": "add", "id": float64(157336),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.ForLLM)
	}
	if addedBody["qualityProfileId"].(float64) != 4 {
		t.Fatalf("expected auto-selected quality profile 4, got %v", addedBody["qualityProfileId"])
	}
	if addedBody["rootFolderPath"] != "/movies" {
		t.Fatalf("expected auto-selected root folder, got %v", addedBody["rootFolderPath"])
	}
}

func TestMediaToolAddRequiresID(t *testing.T) {
	mt := NewMediaTool("http://localhost", "key", "", "")
	res, err := mt.Execute(context.Background(), map[string]interface{}{
		"service": "radarr", "operation": "add",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected error result when id is missing")
	}
}
