package uploader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ericogr/serial-env-uploader/pkg/config"
	"github.com/ericogr/serial-env-uploader/pkg/logging"
)

type fakeSession struct {
	copies  []string
	content string
	perm    string
	copyErr error
	closed  int
}

func (f *fakeSession) CopyFile(ctx context.Context, r io.Reader, remotePath, permissions string) error {
	f.copies = append(f.copies, remotePath)
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.content = string(b)
	f.perm = permissions
	return f.copyErr
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

var testSSH = config.SSHConfig{Host: "collector.example", Port: 22, Username: "edge", Password: "pw", RemotePath: "/srv/edge/"}

func writeLocal(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(p, []byte(`[{"temperature":23.5}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestUploadCopiesFileAndCloses(t *testing.T) {
	sess := &fakeSession{}
	dials := 0
	u, err := New(testSSH, logging.Discard(), WithDialer(func(ctx context.Context) (Session, error) {
		dials++
		return sess, nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	local := writeLocal(t)

	if err := u.Upload(context.Background(), local); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if dials != 1 {
		t.Fatalf("dials: got %d want 1", dials)
	}
	if len(sess.copies) != 1 || sess.copies[0] != "/srv/edge/data.json" {
		t.Fatalf("copies: %v", sess.copies)
	}
	if sess.content != `[{"temperature":23.5}]` || sess.perm != "0644" {
		t.Fatalf("content=%q perm=%q", sess.content, sess.perm)
	}
	if sess.closed != 1 {
		t.Fatalf("closed %d times; want 1", sess.closed)
	}
}

func TestUploadDialFailureDoesNothingElse(t *testing.T) {
	u, err := New(testSSH, logging.Discard(), WithDialer(func(ctx context.Context) (Session, error) {
		return nil, errors.New("connection refused")
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// a nil session would panic on any CopyFile or Close call
	if err := u.Upload(context.Background(), writeLocal(t)); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestUploadCopyFailureStillCloses(t *testing.T) {
	sess := &fakeSession{copyErr: errors.New("scp: permission denied")}
	u, _ := New(testSSH, logging.Discard(), WithDialer(func(ctx context.Context) (Session, error) {
		return sess, nil
	}))

	err := u.Upload(context.Background(), writeLocal(t))
	if err == nil || !errors.Is(err, sess.copyErr) {
		t.Fatalf("expected copy error, got %v", err)
	}
	if sess.closed != 1 {
		t.Fatalf("closed %d times; want 1", sess.closed)
	}
}

func TestUploadMissingLocalFileCloses(t *testing.T) {
	sess := &fakeSession{}
	u, _ := New(testSSH, logging.Discard(), WithDialer(func(ctx context.Context) (Session, error) {
		return sess, nil
	}))
	if err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected open error")
	}
	if len(sess.copies) != 0 || sess.closed != 1 {
		t.Fatalf("copies=%v closed=%d", sess.copies, sess.closed)
	}
}

func TestRemotePath(t *testing.T) {
	tests := []struct {
		dir, local, want string
	}{
		{"/srv/edge", "/opt/app/data.json", "/srv/edge/data.json"},
		{"/srv/edge/", "data.json", "/srv/edge/data.json"},
		{"inbox", "/tmp/x/readings.json", "inbox/readings.json"},
	}
	for _, tt := range tests {
		u := &SCPUploader{remoteDir: tt.dir}
		if got := u.RemotePath(tt.local); got != tt.want {
			t.Fatalf("RemotePath(%q, %q) = %q; want %q", tt.dir, tt.local, got, tt.want)
		}
	}
}

func TestHostKeyCallback(t *testing.T) {
	if _, err := hostKeyCallback(""); err != nil {
		t.Fatalf("insecure callback: %v", err)
	}
	kh := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(kh, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := hostKeyCallback(kh); err != nil {
		t.Fatalf("known_hosts callback: %v", err)
	}
	if _, err := New(config.SSHConfig{Host: "h", Port: 22, KnownHosts: filepath.Join(t.TempDir(), "absent")}, logging.Discard()); err == nil {
		t.Fatalf("expected error for missing known_hosts file")
	}
}
