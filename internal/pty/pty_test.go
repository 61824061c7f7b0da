package pty

import (
	"bytes"
	"testing"
	"time"
)

func TestSpawnAndRead(t *testing.T) {
	h, err := Spawn([]string{"echo", "hello from pty test"}, "/tmp", nil, 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Close()

	if h.PID() == 0 {
		t.Fatal("handle has no PID")
	}

	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	var got bytes.Buffer
	for time.Now().Before(deadline) {
		n, err := h.Read(buf)
		if n > 0 {
			got.Write(buf[:n])
			if bytes.Contains(got.Bytes(), []byte("hello from pty test")) {
				return
			}
		}
		if err != nil {
			break
		}
	}
	t.Fatalf("expected output to contain greeting, got %q", got.String())
}

func TestSpawnMissingWorkingDir(t *testing.T) {
	_, err := Spawn([]string{"echo", "hi"}, "/no/such/dir/at/all", nil, 80, 24)
	if err == nil {
		t.Fatal("expected error for missing working dir")
	}
}

func TestSpawnEmptyCommand(t *testing.T) {
	_, err := Spawn(nil, "/tmp", nil, 80, 24)
	if err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestWriteAndResize(t *testing.T) {
	h, err := Spawn([]string{"cat"}, "/tmp", nil, 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Close()

	if _, err := h.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	var got bytes.Buffer
	for time.Now().Before(deadline) {
		n, _ := h.Read(buf)
		if n > 0 {
			got.Write(buf[:n])
			if bytes.Contains(got.Bytes(), []byte("hello")) {
				break
			}
		}
	}
	if !bytes.Contains(got.Bytes(), []byte("hello")) {
		t.Fatalf("expected echoed output, got %q", got.String())
	}

	if err := h.Resize(120, 40); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := h.Resize(120, 40); err != nil {
		t.Fatalf("idempotent Resize failed: %v", err)
	}
	if err := h.Resize(0, 40); err == nil {
		t.Fatal("expected error for zero cols")
	}
}

func TestOnExitFiresOnce(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "exit 7"}, "/tmp", nil, 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	codeCh := make(chan int, 1)
	calls := 0
	h.OnExit(func(code int) {
		calls++
		codeCh <- code
	})

	go h.Wait()

	select {
	case code := <-codeCh:
		if code != 7 {
			t.Fatalf("exit code = %d, want 7", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
	if calls != 1 {
		t.Fatalf("onExit called %d times, want 1", calls)
	}
}

func TestCdTrackingBestEffort(t *testing.T) {
	h, err := Spawn([]string{"cat"}, "/tmp", nil, 80, 24)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	defer h.Close()

	changed := make(chan string, 1)
	h.WatchCwd(func(dir string) { changed <- dir })

	if _, err := h.Write([]byte("cd /var\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case dir := <-changed:
		if dir != "/var" {
			t.Fatalf("tracked cwd = %q, want /var", dir)
		}
	case <-time.After(time.Second):
		t.Fatal("cwd watcher never fired")
	}
}
