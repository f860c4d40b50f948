package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/contentkit/modrun/pkg/engine"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// SFTPConfig holds the connection settings for a remote project host.
type SFTPConfig struct {
	// Host is the remote hostname or IP address
	Host string `yaml:"host" validate:"required"`

	// Port is the SSH port (default: 22)
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// User is the SSH username
	User string `yaml:"user" validate:"required"`

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod `yaml:"auth_method" validate:"oneof=password key"`

	// Password for password-based authentication
	Password string `yaml:"password"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `yaml:"private_key_path"`

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string `yaml:"private_key_passphrase"`

	// KnownHostsPath is the path to the known_hosts file.
	// If empty, host key verification is disabled.
	KnownHostsPath string `yaml:"known_hosts_path"`

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// DefaultSFTPConfig returns an SFTPConfig with sensible defaults.
func DefaultSFTPConfig(host string, user string) *SFTPConfig {
	return &SFTPConfig{
		Host:              host,
		Port:              22,
		User:              user,
		AuthMethod:        AuthMethodKey,
		KnownHostsPath:    filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectionTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is usable.
func (c *SFTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("private key path is required for key authentication")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	return nil
}

// Address returns the formatted SSH address (host:port).
func (c *SFTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the config.
func (c *SFTPConfig) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))
	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// SFTP is a ResolutionHost reading files from a remote machine.
type SFTP struct {
	client *sftp.Client
	conn   *ssh.Client
}

var _ engine.ResolutionHost = (*SFTP)(nil)

// NewSFTP wraps an established SFTP client.
func NewSFTP(client *sftp.Client) *SFTP {
	return &SFTP{client: client}
}

// DialSFTP connects to the remote host described by cfg.
func DialSFTP(ctx context.Context, cfg *SFTPConfig) (*SFTP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}

	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, err
	}

	address := cfg.Address()
	log.Debug().Str("address", address).Msg("Establishing SSH connection")

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", address, clientConfig)
		resultCh <- dialResult{conn: conn, err: err}
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to connect to %s: %w", address, ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", address, res.err)
		}
		conn = res.conn
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	log.Info().Str("address", address).Msg("SFTP host connected")
	return &SFTP{client: client, conn: conn}, nil
}

// Close closes the SFTP session and the SSH connection, if owned.
func (h *SFTP) Close() error {
	err := h.client.Close()
	if h.conn != nil {
		err = errors.Join(err, h.conn.Close())
	}
	return err
}

// ReadFile implements engine.ResolutionHost.
func (h *SFTP) ReadFile(p string) (string, bool) {
	f, err := h.client.Open(remotePath(p))
	if err != nil {
		return "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		log.Debug().Err(err).Str("path", p).Msg("Failed to read remote file")
		return "", false
	}
	return string(data), true
}

// FileExists implements engine.ResolutionHost.
func (h *SFTP) FileExists(p string) bool {
	info, err := h.client.Stat(remotePath(p))
	return err == nil && info.Mode().IsRegular()
}

// DirectoryExists implements engine.ResolutionHost.
func (h *SFTP) DirectoryExists(p string) bool {
	info, err := h.client.Stat(remotePath(p))
	return err == nil && info.IsDir()
}

// ReadDirectory implements engine.ResolutionHost.
func (h *SFTP) ReadDirectory(p string) []string {
	infos, err := h.client.ReadDir(remotePath(p))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

// CaseSensitive implements engine.ResolutionHost. Remote hosts are POSIX.
func (h *SFTP) CaseSensitive() bool {
	return true
}

func remotePath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}
