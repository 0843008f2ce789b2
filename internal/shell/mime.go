package shell

import (
	"net/http"
	"path"
	"strings"
)

var mimeTypes = map[string]string{
	".html": "text/html",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".ts":   "application/javascript",
	".tsx":  "application/javascript",
	".json": "application/json",
	".css":  "text/css",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".ico":  "image/x-icon",
	".map":  "application/json",
	".pdf":  "application/pdf",
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// extension returns the lowercased ".ext" of a URL path, or "" when the last
// segment has none.
func extension(urlPath string) string {
	return strings.ToLower(path.Ext(urlPath))
}

// ContentTypeFor resolves the Content-Type served for urlPath: the extension
// table wins, then the type the origin declared, then text/plain.
func ContentTypeFor(urlPath, declared string) string {
	if ct, ok := mimeTypes[extension(urlPath)]; ok {
		return ct
	}
	if declared != "" {
		return declared
	}
	return "text/plain"
}

// reconstruct builds the response actually served: a copy with Content-Type
// resolved for urlPath. Cache-Control and the other stored headers are kept.
func reconstruct(resp *CachedResponse, urlPath string) *CachedResponse {
	out := resp.Clone()
	out.Header.Set("Content-Type", ContentTypeFor(urlPath, resp.Header.Get("Content-Type")))
	if out.Status == 0 {
		out.Status = http.StatusOK
	}
	return out
}
