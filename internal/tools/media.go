package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

const (
	thumbnailWidth = 200
	maxThumbnails  = 5
	maxImageBytes  = 10 << 20
)

// MediaTool proxies lookup/add requests to Radarr (movies) and Sonarr
// (series) via their REST APIs, thumbnailing poster art from lookup
// results so the LLM gets a small preview instead of full-size cover art.
type MediaTool struct {
	radarrURL, radarrKey string
	sonarrURL, sonarrKey string
	client               *http.Client
	thumbDir             string
}

func NewMediaTool(radarrURL, radarrKey, sonarrURL, sonarrKey string) *MediaTool {
	return &MediaTool{
		radarrURL: strings.TrimRight(radarrURL, "/"), radarrKey: radarrKey,
		sonarrURL: strings.TrimRight(sonarrURL, "/"), sonarrKey: sonarrKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		thumbDir: filepath.Join(os.TempDir(), "oxicrab-media-thumbs"),
	}
}

func (t *MediaTool) Name() string        { return "media" }
func (t *MediaTool) Description() string {
	return "Look up or request movies (Radarr) and TV series (Sonarr)"
}
func (t *MediaTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, NetworkOutbound: true, DestructiveAction: true, SubagentAccess: SubagentDenied}
}
func (t *MediaTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"service":   map[string]interface{}{"type": "string", "enum": []string{"radarr", "sonarr"}},
			"operation": map[string]interface{}{"type": "string", "enum": []string{"lookup", "add"}},
			"query":     map[string]interface{}{"type": "string", "description": "search query (for lookup)"},
			"id": map[string]interface{}{
				"type":        "integer",
				"description": "TMDB id (radarr) or TVDB id (sonarr) from a lookup result (for add)",
			},
			"quality_profile_id": map[string]interface{}{
				"type":        "integer",
				"description": "quality profile id (for add); auto-selected from the first available profile if omitted",
			},
			"root_folder": map[string]interface{}{
				"type":        "string",
				"description": "root folder path (for add); auto-selected from the first available root folder if omitted",
			},
		},
		"required": []string{"service", "operation"},
	}
}

func (t *MediaTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	service, _ := args["service"].(string)
	operation, _ := args["operation"].(string)

	var baseURL, apiKey, resource string
	switch service {
	case "radarr":
		baseURL, apiKey, resource = t.radarrURL, t.radarrKey, "movie"
	case "sonarr":
		baseURL, apiKey, resource = t.sonarrURL, t.sonarrKey, "series"
	default:
		return ErrorResult(fmt.Sprintf("unknown service %q", service)), nil
	}
	if baseURL == "" || apiKey == "" {
		return ErrorResult(fmt.Sprintf("%s is not configured", service)), nil
	}

	switch operation {
	case "lookup":
		query, _ := args["query"].(string)
		if query == "" {
			return ErrorResult("query is required for lookup"), nil
		}
		return t.lookup(ctx, baseURL, apiKey, resource, query)
	case "add":
		id, ok := intArg(args["id"])
		if !ok {
			return ErrorResult("id (tmdb_id for radarr, tvdb_id for sonarr) is required for add"), nil
		}
		qualityProfileID, _ := intArg(args["quality_profile_id"])
		rootFolder, _ := args["root_folder"].(string)
		return t.add(ctx, baseURL, apiKey, service, id, qualityProfileID, rootFolder)
	default:
		return ErrorResult(fmt.Sprintf("unknown operation %q", operation)), nil
	}
}

func intArg(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func (t *MediaTool) lookup(ctx context.Context, baseURL, apiKey, resource, query string) (*Result, error) {
	url := fmt.Sprintf("%s/api/v3/%s/lookup?term=%s", baseURL, resource, query)
	body, err := t.apiGet(ctx, apiKey, url)
	if err != nil {
		return ErrorResult(fmt.Sprintf("lookup request failed: %v", err)), nil
	}

	var results []map[string]interface{}
	if err := json.Unmarshal(body, &results); err != nil {
		return ErrorResult(fmt.Sprintf("decode lookup response: %v", err)), nil
	}

	for i := range results {
		if i >= maxThumbnails {
			break
		}
		posterURL := posterRemoteURL(results[i])
		if posterURL == "" {
			continue
		}
		path, err := t.thumbnail(ctx, posterURL, fmt.Sprintf("%s-%d-%d", resource, time.Now().UnixNano(), i))
		if err != nil {
			continue // thumbnailing is best-effort; lookup still returns without it
		}
		results[i]["thumbnailPath"] = path
	}

	out, _ := json.MarshalIndent(results, "", "  ")
	return SilentResult(string(out)), nil
}

// add looks up the given id's detail, auto-fills quality profile and root
// folder when not supplied, and submits the add request — mirroring the
// original CLI agent's add_movie/add_series flow.
func (t *MediaTool) add(ctx context.Context, baseURL, apiKey, service string, id, qualityProfileID int64, rootFolder string) (*Result, error) {
	var lookup map[string]interface{}
	var addPath, idField string

	switch service {
	case "radarr":
		body, err := t.apiGet(ctx, apiKey, fmt.Sprintf("%s/api/v3/movie/lookup/tmdb?tmdbId=%d", baseURL, id))
		if err != nil {
			return ErrorResult(fmt.Sprintf("movie lookup failed: %v", err)), nil
		}
		if err := json.Unmarshal(body, &lookup); err != nil {
			return ErrorResult(fmt.Sprintf("decode movie lookup: %v", err)), nil
		}
		addPath, idField = "/api/v3/movie", "tmdbId"
	case "sonarr":
		body, err := t.apiGet(ctx, apiKey, fmt.Sprintf("%s/api/v3/series/lookup?term=tvdb:%d", baseURL, id))
		if err != nil {
			return ErrorResult(fmt.Sprintf("series lookup failed: %v", err)), nil
		}
		var results []map[string]interface{}
		if err := json.Unmarshal(body, &results); err != nil || len(results) == 0 {
			return ErrorResult(fmt.Sprintf("series not found for tvdb id %d", id)), nil
		}
		lookup = results[0]
		addPath, idField = "/api/v3/series", "tvdbId"
	}

	title, _ := lookup["title"].(string)

	if qualityProfileID == 0 {
		profiles, err := t.firstProfileID(ctx, baseURL, apiKey)
		if err != nil {
			return ErrorResult(fmt.Sprintf("auto-select quality profile: %v", err)), nil
		}
		qualityProfileID = profiles
	}
	if rootFolder == "" {
		folder, err := t.firstRootFolder(ctx, baseURL, apiKey)
		if err != nil {
			return ErrorResult(fmt.Sprintf("auto-select root folder: %v", err)), nil
		}
		rootFolder = folder
	}

	payload := map[string]interface{}{
		"title":            lookup["title"],
		idField:            id,
		"year":             lookup["year"],
		"qualityProfileId": qualityProfileID,
		"rootFolderPath":   rootFolder,
		"monitored":        true,
		"images":           lookup["images"],
	}
	if service == "radarr" {
		payload["addOptions"] = map[string]interface{}{"searchForMovie": true}
	} else {
		payload["seasonFolder"] = true
		payload["seasons"] = lookup["seasons"]
		payload["addOptions"] = map[string]interface{}{"searchForMissingEpisodes": true}
	}

	respBody, err := t.apiPost(ctx, apiKey, baseURL+addPath, payload)
	if err != nil {
		return ErrorResult(fmt.Sprintf("add request failed: %v", err)), nil
	}
	var added map[string]interface{}
	_ = json.Unmarshal(respBody, &added)
	addedID, _ := intArg(added["id"])

	return SilentResult(fmt.Sprintf("Added %q (quality profile %d, root folder %s) — id %d", title, qualityProfileID, rootFolder, addedID)), nil
}

func (t *MediaTool) firstProfileID(ctx context.Context, baseURL, apiKey string) (int64, error) {
	body, err := t.apiGet(ctx, apiKey, baseURL+"/api/v3/qualityprofile")
	if err != nil {
		return 0, err
	}
	var profiles []map[string]interface{}
	if err := json.Unmarshal(body, &profiles); err != nil || len(profiles) == 0 {
		return 0, fmt.Errorf("no quality profiles available")
	}
	id, _ := intArg(profiles[0]["id"])
	return id, nil
}

func (t *MediaTool) firstRootFolder(ctx context.Context, baseURL, apiKey string) (string, error) {
	body, err := t.apiGet(ctx, apiKey, baseURL+"/api/v3/rootfolder")
	if err != nil {
		return "", err
	}
	var folders []map[string]interface{}
	if err := json.Unmarshal(body, &folders); err != nil || len(folders) == 0 {
		return "", fmt.Errorf("no root folders available")
	}
	path, _ := folders[0]["path"].(string)
	if path == "" {
		return "", fmt.Errorf("root folder missing path")
	}
	return path, nil
}

func (t *MediaTool) apiGet(ctx context.Context, apiKey, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", apiKey)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200_000))
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

func (t *MediaTool) apiPost(ctx context.Context, apiKey, url string, payload interface{}) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200_000))
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// posterRemoteURL extracts the poster image's remoteUrl from a Radarr/
// Sonarr lookup result's images array, if present.
func posterRemoteURL(result map[string]interface{}) string {
	images, _ := result["images"].([]interface{})
	for _, raw := range images {
		img, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if ct, _ := img["coverType"].(string); ct == "poster" {
			if u, _ := img["remoteUrl"].(string); u != "" {
				return u
			}
		}
	}
	return ""
}

// thumbnail fetches remoteURL, decodes it, resizes it to a fixed-width
// JPEG, and writes it under thumbDir, returning the local path.
func (t *MediaTool) thumbnail(ctx context.Context, remoteURL, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("image fetch returned %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	if err := os.MkdirAll(t.thumbDir, 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}
	path := filepath.Join(t.thumbDir, sanitizeThumbName(name)+".jpg")
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create thumbnail file: %w", err)
	}
	defer out.Close()
	if err := imaging.Encode(out, thumb, imaging.JPEG); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return path, nil
}

func sanitizeThumbName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
