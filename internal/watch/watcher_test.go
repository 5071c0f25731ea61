package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileWatcher_Start(t *testing.T) {
	tmpDir := t.TempDir()

	schemaFile := filepath.Join(tmpDir, "schema.yaml")
	otherFile := filepath.Join(tmpDir, "notes.txt")
	for _, f := range []string{schemaFile, otherFile} {
		if err := os.WriteFile(f, []byte("initial content"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	var mu sync.Mutex
	var changes [][]string

	watcher, err := NewFileWatcher([]string{schemaFile}, nil, func(files []string) error {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, files)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	time.Sleep(200 * time.Millisecond) // Allow watcher to initialize
	if err := os.WriteFile(otherFile, []byte("ignored"), 0644); err != nil {
		t.Fatalf("Failed to modify file: %v", err)
	}
	if err := os.WriteFile(schemaFile, []byte("modified content"), 0644); err != nil {
		t.Fatalf("Failed to modify file: %v", err)
	}

	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(changes) == 0 {
		t.Fatal("Expected changes to be detected")
	}
	for _, batch := range changes {
		for _, f := range batch {
			if filepath.Base(f) != "schema.yaml" {
				t.Errorf("unexpected change reported for %s", f)
			}
		}
	}
}

func TestFileWatcher_Directories(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewFileWatcher([]string{
		filepath.Join(dir, "a", "schema.yaml"),
		filepath.Join(dir, "a", "populate.yaml"),
		filepath.Join(dir, "b", "schema.toml"),
	}, nil, func([]string) error { return nil })
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	got := watcher.directories()
	want := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
	if len(got) != len(want) {
		t.Fatalf("directories() = %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("directories()[%d] = %s, expected %s", i, got[i], want[i])
		}
	}

	if !watcher.watched(filepath.Join(dir, "a", "schema.yaml")) {
		t.Error("expected schema.yaml to be watched")
	}
	if watcher.watched(filepath.Join(dir, "a", "other.yaml")) {
		t.Error("expected other.yaml not to be watched")
	}
}

func TestDebouncer_Add(t *testing.T) {
	var mu sync.Mutex
	var called bool
	var files []string

	debouncer := NewDebouncer(50 * time.Millisecond)
	debouncer.SetCallback(func(f []string) {
		mu.Lock()
		defer mu.Unlock()
		called = true
		files = f
	})

	debouncer.Add("schema.yaml")
	debouncer.Add("populate.yaml")
	debouncer.Add("schema.yaml") // Duplicate

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if !called {
		t.Error("Expected callback to be called")
	}

	if len(files) != 2 || files[0] != "populate.yaml" || files[1] != "schema.yaml" {
		t.Errorf("Expected 2 unique sorted files, got %v", files)
	}
}

func TestDebouncer_MultipleFlushes(t *testing.T) {
	var mu sync.Mutex
	var callCount int

	debouncer := NewDebouncer(30 * time.Millisecond)
	debouncer.SetCallback(func(f []string) {
		mu.Lock()
		defer mu.Unlock()
		callCount++
	})

	debouncer.Add("schema.yaml")
	time.Sleep(80 * time.Millisecond)

	debouncer.Add("populate.yaml")
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if callCount != 2 {
		t.Errorf("Expected 2 callback calls, got %d", callCount)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var mu sync.Mutex
	var called bool

	debouncer := NewDebouncer(30 * time.Millisecond)
	debouncer.SetCallback(func([]string) {
		mu.Lock()
		defer mu.Unlock()
		called = true
	})

	debouncer.Add("schema.yaml")
	debouncer.Stop()
	debouncer.Add("schema.yaml")
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Error("Expected no callback after Stop")
	}
}

func TestFileWatcher_Stop(t *testing.T) {
	watcher, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "schema.yaml")}, nil,
		func(files []string) error { return nil })
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	if err := watcher.Stop(); err != nil {
		t.Errorf("Stop() returned error: %v", err)
	}

	// Second stop is a no-op
	if err := watcher.Stop(); err != nil {
		t.Errorf("second Stop() returned error: %v", err)
	}
}

func BenchmarkDebouncer_Add(b *testing.B) {
	debouncer := NewDebouncer(100 * time.Millisecond)
	debouncer.SetCallback(func(files []string) {})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		debouncer.Add("schema.yaml")
	}
}
