package sources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/plangate/plangate/pkg/config"
)

// SFTPSource fetches a plan from a remote host over SFTP.
type SFTPSource struct {
	host       string
	port       int
	user       string
	remotePath string
	cfg        config.RemoteConfig
	logger     zerolog.Logger
}

// NewSFTPSource builds a source from an ssh://[user@]host[:port]/path
// URL. URL components override the remote configuration.
func NewSFTPSource(rawURL string, cfg config.RemoteConfig, logger zerolog.Logger) (*SFTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ssh URL: %w", err)
	}
	if u.Scheme != "ssh" {
		return nil, fmt.Errorf("unsupported scheme %q, expected ssh", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return nil, fmt.Errorf("ssh URL %s has no remote path", rawURL)
	}

	s := &SFTPSource{
		host:       u.Hostname(),
		port:       cfg.Port,
		user:       cfg.User,
		remotePath: u.Path,
		cfg:        cfg,
		logger:     logger.With().Str("component", "sftp-source").Logger(),
	}

	if s.host == "" {
		s.host = cfg.Host
	}
	if s.host == "" {
		return nil, fmt.Errorf("ssh URL %s has no host and remote.host is not configured", rawURL)
	}
	if u.User != nil && u.User.Username() != "" {
		s.user = u.User.Username()
	}
	if s.user == "" {
		return nil, fmt.Errorf("ssh URL %s has no user and remote.user is not configured", rawURL)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in ssh URL: %w", err)
		}
		s.port = port
	}
	if s.port == 0 {
		s.port = 22
	}

	return s, nil
}

// Fetch connects over SSH, opens the remote file via SFTP, and returns
// a reader that closes the whole connection with the file.
func (s *SFTPSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	clientConfig, err := s.buildClientConfig()
	if err != nil {
		return nil, err
	}

	address := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Debug().Str("address", address).Str("path", s.remotePath).Msg("Fetching plan over SFTP")

	sshClient, err := s.dial(ctx, address, clientConfig)
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}

	file, err := sftpClient.Open(s.remotePath)
	if err != nil {
		_ = sftpClient.Close()
		_ = sshClient.Close()
		return nil, fmt.Errorf("failed to open remote plan %s: %w", s.remotePath, err)
	}

	return &sftpReadCloser{
		file:       file,
		sftpClient: sftpClient,
		sshClient:  sshClient,
	}, nil
}

// dial establishes the SSH connection, honoring context cancellation.
func (s *SFTPSource) dial(ctx context.Context, address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ssh connection to %s cancelled: %w", address, ctx.Err())
	case err := <-errChan:
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	case client := <-connChan:
		return client, nil
	}
}

// buildClientConfig assembles authentication and host key verification.
func (s *SFTPSource) buildClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	keyPath := s.cfg.KeyPath
	if keyPath == "" {
		// Fall back to the usual key locations.
		home := os.Getenv("HOME")
		for _, candidate := range []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				keyPath = candidate
				break
			}
		}
	}
	if keyPath != "" {
		keyBytes, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(s.cfg.Password))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication configured: set remote.key_path or remote.password")
	}

	var hostKeyCallback ssh.HostKeyCallback
	if s.cfg.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		knownHosts := s.cfg.KnownHostsFile
		if knownHosts == "" {
			knownHosts = filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")
		}
		var err error
		hostKeyCallback, err = knownhosts.New(knownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            s.user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Description names the source.
func (s *SFTPSource) Description() string {
	return fmt.Sprintf("ssh://%s@%s:%d%s", s.user, s.host, s.port, s.remotePath)
}

// sftpReadCloser tears down the SFTP session and SSH connection when
// the plan has been read.
type sftpReadCloser struct {
	file       *sftp.File
	sftpClient *sftp.Client
	sshClient  *ssh.Client
}

func (r *sftpReadCloser) Read(p []byte) (int, error) {
	return r.file.Read(p)
}

func (r *sftpReadCloser) Close() error {
	fileErr := r.file.Close()
	sftpErr := r.sftpClient.Close()
	sshErr := r.sshClient.Close()

	if fileErr != nil {
		return fileErr
	}
	if sftpErr != nil {
		return sftpErr
	}
	return sshErr
}
