package ingress

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWatcher_TriggersRefreshOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingress.json")
	if err := os.WriteFile(path, []byte(minimalDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	src := &FileSource{Path: path}
	h := NewHandle(LoadInitial(context.Background(), src, discardLogger()))
	r := NewRefresher(h, src, time.Hour, time.Second, discardLogger(), nil)

	fw, err := NewFileWatcher(path, r, discardLogger())
	if err != nil {
		t.Fatalf("NewFileWatcher() error = %v", err)
	}
	fw.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	go fw.Run(ctx)

	updated := `{"routing":{"routes":[{"path_prefix":"/v2","upstream_url":"http://v2:8080"}]}}`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, _, ok := h.Snapshot().Table.Match("/v2/items")
		return ok
	})
}

func TestNewFileWatcher_MissingDirectory(t *testing.T) {
	r := NewRefresher(NewHandle(nil), &stubSource{}, time.Hour, 0, discardLogger(), nil)
	_, err := NewFileWatcher(filepath.Join(t.TempDir(), "missing", "ingress.json"), r, discardLogger())
	if err == nil {
		t.Fatal("NewFileWatcher() expected error for missing directory")
	}
}
