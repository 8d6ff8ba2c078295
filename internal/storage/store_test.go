package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func TestStorePutAndGet(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "certs/example.com", Name: "cert.pem"}

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("payload")
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}

	body, err := ReadAll(context.Background(), store, locator)
	if err != nil || string(body) != string(payload) {
		t.Fatalf("ReadAll mismatch: %q %v", body, err)
	}
}

func TestStorePutHonoursMode(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "certs/a", Name: "key.pem"}
	entry, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("secret")), PutOptions{Mode: 0o600})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	info, err := os.Stat(entry.FilePath)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("期望权限 0600，得到 %v", info.Mode().Perm())
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), Locator{Namespace: "certs", Name: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "certs", Name: "dir"}

	filePath, err := store.Path(locator)
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if err := os.MkdirAll(filePath, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("目录不应被视为对象: %v", err)
	}
}

func TestStoreRejectsEscapingPaths(t *testing.T) {
	store := newTestStore(t)
	cases := []Locator{
		{Namespace: "../outside", Name: "cert.pem"},
		{Namespace: "certs", Name: "../key.pem"},
		{Namespace: "certs", Name: "a/b"},
		{Namespace: "", Name: "cert.pem"},
	}
	for _, locator := range cases {
		if _, err := store.Path(locator); err == nil {
			t.Fatalf("%+v 应被拒绝", locator)
		}
	}
}

func TestStoreConcurrentPutsLeaveOneObject(t *testing.T) {
	store := newTestStore(t)
	locator := Locator{Namespace: "certs/race", Name: "cert.pem"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('a' + i%26)}, 4096)
			if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{}); err != nil {
				t.Errorf("put error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	body, err := ReadAll(context.Background(), store, locator)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(body) != 4096 || !bytes.Equal(body, bytes.Repeat(body[:1], 4096)) {
		t.Fatalf("对象内容被交错写入")
	}

	path, _ := store.Path(locator)
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".obj-*"))
	if len(leftovers) != 0 {
		t.Fatalf("临时文件未清理: %v", leftovers)
	}
}

func TestStorePutCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	locator := Locator{Namespace: "certs/cancel", Name: "cert.pem"}
	if _, err := store.Put(ctx, locator, bytes.NewReader([]byte("x")), PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，得到 %v", err)
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("取消的写入不应留下对象: %v", err)
	}
}
