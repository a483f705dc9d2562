package assets

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/d3lta02/zklabubu-desktop/internal/engine"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// fullFS returns a filesystem holding every resource of m.
func fullFS(m *Manifest) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, e := range m.entries() {
		fsys[e.path] = &fstest.MapFile{Data: []byte("data:" + e.path)}
	}
	return fsys
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	if len(m.Images) != 18 {
		t.Fatalf("images = %d, want 18", len(m.Images))
	}
	if len(m.Sounds) != 5 {
		t.Fatalf("sounds = %d, want 5", len(m.Sounds))
	}
	var bgmusic *SoundSpec
	for _, s := range m.Sounds {
		if s.Name == "bgmusic" {
			bgmusic = s
		}
	}
	if bgmusic == nil || !bgmusic.Loop || bgmusic.Volume != 0.5 {
		t.Fatalf("unexpected bgmusic: %+v", bgmusic)
	}
}

func TestParseManifestRejectsBadFallbacks(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown",
			src: `image "a" {
  path     = "a.png"
  fallback = "ghost"
}`,
			want: "unknown resource",
		},
		{
			name: "cycle",
			src: `image "a" {
  path     = "a.png"
  fallback = "b"
}
image "b" {
  path     = "b.png"
  fallback = "a"
}`,
			want: "cycle",
		},
		{
			name: "kind mismatch",
			src: `image "a" {
  path     = "a.png"
  fallback = "s"
}
sound "s" { path = "s.mp3" }`,
			want: "falls back to sound",
		},
		{
			name: "duplicate",
			src: `image "a" { path = "a.png" }
sound "a" { path = "a.mp3" }`,
			want: "duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.src), "test.hcl")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseManifestSyntaxError(t *testing.T) {
	if _, err := ParseManifest([]byte(`image "a" {`), "broken.hcl"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadAllResources(t *testing.T) {
	m := DefaultManifest()
	var (
		mu       sync.Mutex
		progress []float64
	)
	loader := NewLoader(Config{
		Fetcher: FSFetcher{FS: fullFS(m)},
		Progress: func(p float64) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		},
		Concurrency: 4,
		Logger:      quietLogger(),
	})

	lib, err := loader.Load(context.Background(), m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if lib.Len() != m.Len() {
		t.Fatalf("library has %d handles, want %d", lib.Len(), m.Len())
	}
	if len(lib.Failures()) != 0 {
		t.Fatalf("unexpected failures: %v", lib.Failures())
	}

	if len(progress) != m.Len()+1 {
		t.Fatalf("progress reported %d times, want %d", len(progress), m.Len()+1)
	}
	if progress[0] != 20 || progress[len(progress)-1] != 50 {
		t.Fatalf("progress range = %v..%v, want 20..50", progress[0], progress[len(progress)-1])
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress decreased at %d: %v", i, progress)
		}
	}

	egg, ok := lib.Get("egg")
	if !ok || egg.Kind != KindSound || egg.Volume != 0.7 || egg.FellBack {
		t.Fatalf("unexpected egg handle: %+v", egg)
	}
}

func TestLoadSubstitutesFallback(t *testing.T) {
	m := DefaultManifest()
	fsys := fullFS(m)
	delete(fsys, "images/labubu_pink.png")
	delete(fsys, "images/labubu_pink_shield.png")
	delete(fsys, "images/rock.png")

	lib, err := NewLoader(Config{Fetcher: FSFetcher{FS: fsys}, Logger: quietLogger()}).Load(context.Background(), m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	pink, _ := lib.Get("labubu_pink")
	if !pink.FellBack || pink.Source != "labubu" || string(pink.Data) != "data:images/labubu_blue.png" {
		t.Fatalf("labubu_pink should fall back to labubu: %+v", pink)
	}
	shield, _ := lib.Get("labubu_pink_shield")
	if !shield.FellBack || shield.Source != "labubu_blue_shield" {
		t.Fatalf("labubu_pink_shield should fall back to labubu_blue_shield: %+v", shield)
	}
	rock, _ := lib.Get("rock")
	if !rock.FellBack || !rock.Missing() {
		t.Fatalf("rock has no fallback and should be missing: %+v", rock)
	}

	failures := lib.Failures()
	if len(failures) != 3 {
		t.Fatalf("failures = %d, want 3", len(failures))
	}
	var lerr *LoadError
	if !errors.As(failures[0], &lerr) || lerr.Name != "labubu_pink" {
		t.Fatalf("failures not sorted by name: %v", failures)
	}
}

func TestLoadFallbackChain(t *testing.T) {
	m, err := ParseManifest([]byte(`
image "base" { path = "base.png" }
image "mid" {
  path     = "mid.png"
  fallback = "base"
}
image "top" {
  path     = "top.png"
  fallback = "mid"
}`), "chain.hcl")
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	fsys := fstest.MapFS{"base.png": {Data: []byte("base")}}
	lib, err := NewLoader(Config{Fetcher: FSFetcher{FS: fsys}, Logger: quietLogger()}).Load(context.Background(), m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	top, _ := lib.Get("top")
	if top.Source != "base" {
		t.Fatalf("top source = %q, want base", top.Source)
	}
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := DefaultManifest()
	_, err := NewLoader(Config{Fetcher: FSFetcher{FS: fullFS(m)}, Logger: quietLogger()}).Load(ctx, m)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/assets/images/rock.png":
			_, _ = w.Write([]byte("rock-bytes"))
		case "/assets/huge.bin":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := HTTPFetcher{BaseURL: srv.URL + "/assets", Client: srv.Client(), MaxBytes: 32}
	data, err := f.Fetch(context.Background(), "images/rock.png")
	if err != nil || string(data) != "rock-bytes" {
		t.Fatalf("Fetch = %q, %v", data, err)
	}

	_, err = f.Fetch(context.Background(), "images/none.png")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}

	if _, err := f.Fetch(context.Background(), "huge.bin"); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestFSFetcherRejectsTraversal(t *testing.T) {
	f := FSFetcher{FS: fstest.MapFS{"a.png": {Data: []byte("a")}}}
	if _, err := f.Fetch(context.Background(), "../secret"); err == nil {
		t.Fatal("expected invalid path error")
	}
	if data, err := f.Fetch(context.Background(), "/a.png"); err != nil || string(data) != "a" {
		t.Fatalf("Fetch = %q, %v", data, err)
	}
}

func TestVariantBindings(t *testing.T) {
	m := DefaultManifest()
	lib, err := NewLoader(Config{Fetcher: FSFetcher{FS: fullFS(m)}, Logger: quietLogger()}).Load(context.Background(), m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, v := range ListVariants() {
		b, err := lib.Bindings(v.ID)
		if err != nil {
			t.Fatalf("Bindings(%s): %v", v.ID, err)
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("Bindings(%s) incomplete: %v", v.ID, err)
		}
		if b.Assets[engine.RolePlayer] != "labubu_"+v.ID {
			t.Fatalf("player asset = %q", b.Assets[engine.RolePlayer])
		}
	}

	if _, err := lib.Bindings("green"); err == nil {
		t.Fatal("expected unknown variant error")
	}
}
