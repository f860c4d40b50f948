package host

import (
	"net"
	"reflect"
	"testing"

	"github.com/pkg/sftp"
)

// newTestSFTP serves an in-memory file system over a pipe.
func newTestSFTP(t *testing.T) (*SFTP, *sftp.Client) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go func() {
		_ = server.Serve()
	}()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("failed to create sftp client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return NewSFTP(client), client
}

func writeRemote(t *testing.T, client *sftp.Client, p, content string) {
	t.Helper()
	f, err := client.Create(p)
	if err != nil {
		t.Fatalf("failed to create %s: %v", p, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write %s: %v", p, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close %s: %v", p, err)
	}
}

func TestSFTP_ResolutionHost(t *testing.T) {
	h, client := newTestSFTP(t)

	if err := client.MkdirAll("/p/src"); err != nil {
		t.Fatalf("failed to create remote dirs: %v", err)
	}
	writeRemote(t, client, "/p/tsconfig.json", "{}")
	writeRemote(t, client, "/p/src/a.val.ts", "export default 1")

	if content, ok := h.ReadFile("/p/src/../src/a.val.ts"); !ok || content != "export default 1" {
		t.Errorf("unexpected read result: %q %v", content, ok)
	}
	if !h.FileExists("/p/tsconfig.json") {
		t.Error("expected remote file to exist")
	}
	if h.FileExists("/p/src") || !h.DirectoryExists("/p/src") {
		t.Error("directory classification mismatch")
	}
	if names := h.ReadDirectory("/p"); !reflect.DeepEqual(names, []string{"src", "tsconfig.json"}) {
		t.Errorf("unexpected listing: %v", names)
	}
	if !h.CaseSensitive() {
		t.Error("remote hosts are case-sensitive")
	}
}

func TestSFTPConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SFTPConfig)
		wantErr bool
	}{
		{name: "valid key", mutate: func(c *SFTPConfig) { c.PrivateKeyPath = "/tmp/id" }},
		{name: "missing host", mutate: func(c *SFTPConfig) { c.Host = ""; c.PrivateKeyPath = "/tmp/id" }, wantErr: true},
		{name: "bad port", mutate: func(c *SFTPConfig) { c.Port = 70000; c.PrivateKeyPath = "/tmp/id" }, wantErr: true},
		{name: "password without secret", mutate: func(c *SFTPConfig) { c.AuthMethod = AuthMethodPassword }, wantErr: true},
		{name: "key without path", mutate: func(c *SFTPConfig) {}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSFTPConfig("example.com", "dev")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if addr := DefaultSFTPConfig("example.com", "dev").Address(); addr != "example.com:22" {
		t.Errorf("unexpected address %s", addr)
	}
}
