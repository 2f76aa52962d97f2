package listener

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

//go:embed static/*.png
var assets embed.FS

var staticFS, _ = fs.Sub(assets, "static")

// static serves one embedded avatar. Names must be a single plain path
// element.
func (l *Listener) static(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !fs.ValidPath(name) || name == "." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if _, err := fs.Stat(staticFS, name); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFileFS(w, r, staticFS, name)
}
