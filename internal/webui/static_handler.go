package webui

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"buszy.nrfz.sg/internal/logging"
)

var allowedDataExtensions = map[string]string{
	".json": "application/json",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".mp3":  "audio/mpeg",
}

// dataHandler serves one file from the data directory. Only whitelisted
// extensions are served and the resolved path must stay inside the directory.
func (webUI *WebUI) dataHandler(w http.ResponseWriter, r *http.Request) {
	fileName := r.PathValue("file")
	if fileName == "" {
		fileName = filepath.Base(r.URL.Path)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	contentType, ok := allowedDataExtensions[ext]
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	if strings.Contains(fileName, "..") || strings.ContainsAny(fileName, "/\\\x00") {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	}

	dataDir, err := filepath.Abs(webUI.Config.DataDir())
	if err != nil {
		http.Error(w, "Internal configuration error", http.StatusInternalServerError)
		return
	}
	absPath := filepath.Join(dataDir, fileName)

	rel, err := filepath.Rel(dataDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		logging.FromContext(r.Context()).Warn("potential path traversal attempt blocked", "path", absPath)
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	stat, err := os.Stat(absPath)
	if err != nil || stat.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=300")
	http.ServeFile(w, r, absPath)
}
