package secretgate

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/panyam/secretgate/internal/logutil"
)

//go:embed views
var viewsFS embed.FS

var viewNames = []string{"home", "login", "register", "secrets", "submit", "error"}

// PageData is what every view renders from
type PageData struct {
	Viewer    Viewer
	Providers []string
	Secrets   []string
}

// Views holds the parsed page templates
type Views struct {
	pages map[string]*template.Template
}

func LoadViews() (*Views, error) {
	funcs := template.FuncMap{"title": titleCase}
	v := &Views{pages: map[string]*template.Template{}}
	for _, name := range viewNames {
		t, err := template.New(name+".html").Funcs(funcs).ParseFS(viewsFS, "views/partials/*.html", "views/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("error parsing view %s: %w", name, err)
		}
		v.pages[name] = t
	}
	return v, nil
}

// Render writes the named page with the given status. The page is rendered
// into a buffer first so a template failure never leaves a half written body.
func (v *Views) Render(w http.ResponseWriter, r *http.Request, status int, name string, data *PageData) {
	t, ok := v.pages[name]
	if !ok {
		logutil.FromContext(r.Context()).Error().Str("view", name).Msg("unknown view")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		logutil.FromContext(r.Context()).Error().Err(err).Str("view", name).Msg("error rendering view")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// Static serves the embedded stylesheet tree under /css/. Directories are not listed.
func (v *Views) Static() http.Handler {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(filesOnly{sub}))
}

// filesOnly hides directories so the file server never lists them
type filesOnly struct {
	fs.FS
}

func (f filesOnly) Open(name string) (fs.File, error) {
	file, err := f.FS.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
