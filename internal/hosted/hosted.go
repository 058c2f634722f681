// Package hosted implements the Hosted Server (C9): serves landing pages and
// assets out of the blob store, with index.html fallback and a generic
// asset-directory fallback table. Grounded on the teacher's
// small-interface-over-storage style (internal/db/db.go's Store interface),
// adapted from a KV-backed ad-serving data store to a blob-backed static
// content server.
package hosted

import (
	"io"
	"net/http"
	"strings"

	"github.com/clickrelay/edge-dispatcher/internal/blob"
	"github.com/clickrelay/edge-dispatcher/internal/macro"
	"github.com/clickrelay/edge-dispatcher/internal/match"
)

// assetDirFallbacks maps a requested extension's natural directory name to
// the conventional flat directories a static export might have used
// instead, tried in order after the direct path misses (§4.9).
var assetDirFallbacks = map[string][]string{
	"css": {"styles", "css"},
	"js":  {"scripts", "js"},
	"img": {"images", "img"},
}

var genericAssetDirs = []string{"assets", "static", "files", "_files"}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".txt":  "text/plain; charset=utf-8",
}

// Result is what Serve returns for the caller (the dispatch engine) to turn
// into an HTTP response.
type Result struct {
	Found       bool
	ContentType string
	Body        []byte
}

// Server serves content from a blob Store.
type Server struct {
	Store blob.Store
}

func New(store blob.Store) *Server {
	return &Server{Store: store}
}

// Serve resolves base (the bundle's folder, possibly pointing at a specific
// file) and requestPath against the blob store, trying in order: the exact
// file (if base already names one), {base}{requested-with-index}, the
// original request path, the asset-directory fallback table, then the
// per-user drive namespace, per §4.9.
func (s *Server) Serve(base, requestPath, userID, driveName string) Result {
	if hasKnownExtension(base) {
		if body, ok := s.read(base); ok {
			return Result{Found: true, ContentType: contentTypeFor(base), Body: body}
		}
		return Result{}
	}

	withIndex := requestPath
	if !hasKnownExtension(requestPath) {
		withIndex = joinPath(requestPath, "index.html")
	}

	if body, ok := s.read(joinPath(base, withIndex)); ok {
		return Result{Found: true, ContentType: contentTypeFor(withIndex), Body: body}
	}
	if body, ok := s.read(joinPath(base, requestPath)); ok {
		return Result{Found: true, ContentType: contentTypeFor(requestPath), Body: body}
	}

	ext := strings.TrimPrefix(match.ExtOf(requestPath), ".")
	if dirs, ok := assetDirFallbacks[extToFamily(ext)]; ok {
		for _, dir := range dirs {
			candidate := joinPath(base, joinPath(dir, trimLeadingDir(requestPath)))
			if body, ok := s.read(candidate); ok {
				return Result{Found: true, ContentType: contentTypeFor(requestPath), Body: body}
			}
		}
	}
	for _, dir := range genericAssetDirs {
		candidate := joinPath(base, joinPath(dir, trimLeadingDir(requestPath)))
		if body, ok := s.read(candidate); ok {
			return Result{Found: true, ContentType: contentTypeFor(requestPath), Body: body}
		}
	}

	if userID != "" && driveName != "" {
		key := blob.DriveKey(userID, driveName, requestPath)
		if body, ok := s.read(key); ok {
			return Result{Found: true, ContentType: contentTypeFor(requestPath), Body: body}
		}
	}

	return Result{}
}

// ExpandIfTextual applies macro expansion to HTML/CSS bodies, leaving
// everything else untouched, per §4.9's "HTML and CSS responses receive
// macro expansion; others stream through."
func ExpandIfTextual(res Result, ctx macro.Context) Result {
	if !res.Found {
		return res
	}
	if strings.HasPrefix(res.ContentType, "text/html") || strings.HasPrefix(res.ContentType, "text/css") {
		res.Body = []byte(macro.Expand(string(res.Body), ctx, macro.ModeHTML))
	}
	return res
}

func (s *Server) read(key string) ([]byte, bool) {
	rc, err := s.Store.Get(key)
	if err != nil {
		return nil, false
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, false
	}
	return body, true
}

func hasKnownExtension(p string) bool {
	ext := match.ExtOf(p)
	if ext == "" {
		return false
	}
	_, known := contentTypes[ext]
	return known
}

func contentTypeFor(p string) string {
	ext := match.ExtOf(p)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

func extToFamily(ext string) string {
	switch ext {
	case "css":
		return "css"
	case "js":
		return "js"
	case "png", "jpg", "jpeg", "gif", "svg", "webp":
		return "img"
	default:
		return ext
	}
}

func trimLeadingDir(p string) string {
	p = strings.TrimPrefix(p, "/")
	if idx := strings.Index(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func joinPath(a, b string) string {
	a = strings.TrimSuffix(a, "/")
	b = strings.TrimPrefix(b, "/")
	return a + "/" + b
}

// StatusFor maps a Result to the HTTP status the caller should send.
func StatusFor(res Result) int {
	if res.Found {
		return http.StatusOK
	}
	return http.StatusNotFound
}
