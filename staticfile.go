package fathom

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
	"github.com/tdewolff/minify/v2/xml"
)

// staticAsset is a resolved, in-memory static file.
type staticAsset struct {
	content     []byte
	contentType string
	etag        string
	modTime     time.Time
}

// assetMeta is the part of a cached asset kept pinned per path: content
// type, validator, freshness stamp, and the expected byte count. The bytes
// themselves live in the memory-bounded fastcache and may be evicted
// independently, in which case resolve falls back to a disk reload.
type assetMeta struct {
	contentType string
	etag        string
	modTime     time.Time
	size        int
}

// staticResolver maps request sub-paths to files beneath a base directory,
// with index-file fallback for directories and escape-safety checks for
// dot-dot and symlinked paths. Loaded content is served from an in-memory
// byte cache and invalidated by mtime and a filesystem watcher.
type staticResolver struct {
	root       string
	indexFiles []string
	exts       []string

	minifyEnabled bool
	minifyTypes   []string
	minifier      *minify.M

	gzipEnabled bool
	gzipTypes   []string

	once    sync.Once
	cache   *fastcache.Cache
	maxMem  int
	setMu   sync.Mutex
	metas   sync.Map // path -> *assetMeta
	watcher *fsnotify.Watcher
}

func newStaticResolver(root string, maxMemoryBytes int) *staticResolver {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddFunc("application/json", json.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("text/xml", xml.Minify)

	return &staticResolver{
		root:       root,
		indexFiles: []string{"index.html", "index.htm"},
		exts:       []string{".html", ".css", ".js", ".json", ".svg", ".xml", ".png", ".jpg", ".jpeg", ".gif", ".ico", ".txt", ".woff", ".woff2"},
		minifier:   m,
		maxMem:     maxMemoryBytes,
	}
}

// globalStaticResolver is wired up by Config.applyStaticResolver; one
// resolver serves the whole process.
var globalStaticResolver *staticResolver

// resolveStaticAsset resolves name against the process's static resolver,
// applying index-file fallback when name addresses a directory.
func resolveStaticAsset(name string) (*staticAsset, *Incident) {
	if globalStaticResolver == nil {
		return nil, newIncident(404, ReasonNotFound, fmt.Errorf("no static root configured"))
	}
	return globalStaticResolver.resolve(name)
}

// resolve loads and caches the asset at name beneath r.root.
func (r *staticResolver) resolve(name string) (*staticAsset, *Incident) {
	r.once.Do(func() {
		r.watcher, _ = fsnotify.NewWatcher()
		r.cache = fastcache.New(r.maxMem)
		if r.watcher != nil {
			go r.watchLoop()
		}
	})

	root, err := filepath.Abs(r.root)
	if err != nil {
		return nil, newIncident(500, ReasonInternalServerError, err)
	}

	full := filepath.Join(root, filepath.Clean("/"+name))
	if !strings.HasPrefix(full, root) {
		return nil, newIncident(403, ReasonForbidden, fmt.Errorf("path escapes static root: %s", name))
	}

	fi, err := os.Stat(full)
	if err != nil {
		return nil, newIncident(404, ReasonNotFound, err)
	}

	if fi.IsDir() {
		found := false
		for _, name := range r.indexFiles {
			indexPath := filepath.Join(full, name)
			ifi, ierr := os.Stat(indexPath)
			if ierr == nil && ifi.Mode().IsRegular() {
				full, fi = indexPath, ifi
				found = true
				break
			}
		}
		if !found {
			return nil, newIncident(404, ReasonNotFound, fmt.Errorf("unable to find index file under %s", full))
		}
	}

	if !fi.Mode().IsRegular() {
		return nil, newIncident(403, ReasonForbidden, fmt.Errorf("%s is not a file", full))
	}

	// Canonicalized paths must remain under the (canonicalized) base, so
	// a symlink inside the root cannot serve files from outside it.
	if resolved, rerr := filepath.EvalSymlinks(full); rerr == nil && resolved != full {
		rootResolved, rerr2 := filepath.EvalSymlinks(root)
		if rerr2 != nil {
			rootResolved = root
		}
		if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
			return nil, newIncident(403, ReasonForbidden, fmt.Errorf("symlink escapes static root: %s", name))
		}
		full = resolved
		if fi, err = os.Stat(full); err != nil {
			return nil, newIncident(404, ReasonNotFound, err)
		}
	}

	key := []byte(full)
	if m, ok := r.metas.Load(full); ok {
		meta := m.(*assetMeta)
		if meta.modTime.Equal(fi.ModTime()) {
			if content := r.cache.GetBig(nil, key); len(content) == meta.size {
				return &staticAsset{
					content:     content,
					contentType: meta.contentType,
					etag:        meta.etag,
					modTime:     meta.modTime,
				}, nil
			}
			// The bytes were evicted from the cache; reload below.
		} else {
			r.metas.Delete(full)
		}
	}

	asset, err := r.load(full, fi)
	if err != nil {
		return nil, newIncident(500, ReasonInternalServerError, err)
	}

	// Only extensions on the allowlist are worth caching in memory;
	// anything else is served but reloaded per request.
	if stringSliceContains(r.exts, filepath.Ext(full)) {
		r.metas.Store(full, &assetMeta{
			contentType: asset.contentType,
			etag:        asset.etag,
			modTime:     asset.modTime,
			size:        len(asset.content),
		})

		// SetBig must not run concurrently for one key.
		r.setMu.Lock()
		r.cache.SetBig(key, asset.content)
		r.setMu.Unlock()

		if r.watcher != nil {
			r.watcher.Add(full)
		}
	}

	return asset, nil
}

func (r *staticResolver) load(full string, fi os.FileInfo) (*staticAsset, error) {
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(full)
	ct := mime.TypeByExtension(ext)
	if ct == "" {
		ct = "application/octet-stream"
	}

	if bare, _, err := mime.ParseMediaType(ct); err == nil && r.minifyEnabled && stringSliceContains(r.minifyTypes, bare) {
		if minified, err := r.minifier.Bytes(bare, b); err == nil {
			b = minified
		}
	}

	if bare, _, err := mime.ParseMediaType(ct); err == nil && r.gzipEnabled && stringSliceContains(r.gzipTypes, bare) {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(b); err == nil && gw.Close() == nil {
			b = buf.Bytes()
		}
	}

	sum := xxhash.Sum64(b)
	etag := fmt.Sprintf(`"%x"`, sum)

	return &staticAsset{
		content:     b,
		contentType: ct,
		etag:        etag,
		modTime:     fi.ModTime(),
	}, nil
}

func (r *staticResolver) watchLoop() {
	for {
		select {
		case e, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.metas.Delete(e.Name)
			r.cache.Del([]byte(e.Name))
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func stringSliceContains(ss []string, s string) bool {
	for _, x := range ss {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
