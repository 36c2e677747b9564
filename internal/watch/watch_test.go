package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/md2conf/internal/apperr"
	"github.com/starford/md2conf/internal/testutil"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, root string, debounce time.Duration, sync SyncFunc) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, []string{root}, debounce, testutil.Logger(), sync) }()
	t.Cleanup(cancel)
	time.Sleep(100 * time.Millisecond)
	return cancel, errc
}

func TestRelevant(t *testing.T) {
	cases := map[string]bool{
		"/docs/a.md":       true,
		"/docs/A.MD":       true,
		"/docs/img/x.png":  true,
		"/docs/notes.txt":  false,
		"/docs/.a.md.swp":  false,
		"/docs/.hidden.md": false,
	}
	for path, want := range cases {
		if got := Relevant(path); got != want {
			t.Errorf("Relevant(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestWatch_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	var syncs atomic.Int32
	startWatch(t, root, 200*time.Millisecond, func(ctx context.Context) error {
		syncs.Add(1)
		return nil
	})

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		_ = os.WriteFile(filepath.Join(root, name), []byte("# "+name), 0o644)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return syncs.Load() >= 1
	}, "no sync after changes")
	time.Sleep(500 * time.Millisecond)
	if n := syncs.Load(); n != 1 {
		t.Errorf("syncs = %d, want 1", n)
	}
}

func TestWatch_IgnoresIrrelevantFiles(t *testing.T) {
	root := t.TempDir()
	var syncs atomic.Int32
	startWatch(t, root, 50*time.Millisecond, func(ctx context.Context) error {
		syncs.Add(1)
		return nil
	})

	_ = os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if n := syncs.Load(); n != 0 {
		t.Errorf("syncs = %d, want 0", n)
	}
}

func TestWatch_NewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	var syncs atomic.Int32
	startWatch(t, root, 50*time.Millisecond, func(ctx context.Context) error {
		syncs.Add(1)
		return nil
	})

	sub := filepath.Join(root, "guide")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return syncs.Load() >= 1
	}, "no sync after new dir")

	before := syncs.Load()
	time.Sleep(200 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "guide.md"), []byte("# Guide"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return syncs.Load() > before
	}, "file in new dir did not trigger a sync")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	cancel, errc := startWatch(t, root, 50*time.Millisecond, func(ctx context.Context) error { return nil })
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Watch = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_UnauthorizedStops(t *testing.T) {
	root := t.TempDir()
	_, errc := startWatch(t, root, 50*time.Millisecond, func(ctx context.Context) error {
		return apperr.ErrUnauthorized
	})

	_ = os.WriteFile(filepath.Join(root, "a.md"), []byte("# A"), 0o644)
	select {
	case err := <-errc:
		if !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("Watch = %v, want ErrUnauthorized", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on unauthorized sync")
	}
}

func TestWatch_OtherSyncErrorsKeepWatching(t *testing.T) {
	root := t.TempDir()
	var syncs atomic.Int32
	startWatch(t, root, 50*time.Millisecond, func(ctx context.Context) error {
		syncs.Add(1)
		return errors.New("transient")
	})

	_ = os.WriteFile(filepath.Join(root, "a.md"), []byte("# A"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return syncs.Load() == 1 }, "first sync missing")
	time.Sleep(150 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(root, "b.md"), []byte("# B"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool { return syncs.Load() == 2 }, "watching stopped after a failed sync")
}
