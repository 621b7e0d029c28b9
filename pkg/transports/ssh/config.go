package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/openfroyo/pathguard/pkg/config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// DefaultStagingDir receives pushed configuration documents.
const DefaultStagingDir = "/var/lib/pathguard"

// Config holds SSH connection configuration for one device.
type Config struct {
	// Device names the device in errors and logs. Defaults to Host.
	Device string

	Host string
	Port int
	User string

	AuthMethod           AuthMethod
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is consulted only with StrictHostKeyChecking.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration

	// KeepAliveInterval of 0 disables keep-alives.
	KeepAliveInterval   time.Duration
	MaxKeepAliveRetries int

	// UseSudo runs interface commands through sudo -n.
	UseSudo bool

	// StagingDir is the remote directory pushed documents are uploaded to.
	StagingDir string
}

// DefaultConfig returns key authentication with strict host checking on
// port 22.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		CommandTimeout:        10 * time.Second,
		KeepAliveInterval:     30 * time.Second,
		MaxKeepAliveRetries:   3,
		StagingDir:            DefaultStagingDir,
	}
}

// FromDevice builds a Config from a device entry of the application config.
func FromDevice(dev config.DeviceConfig) (*Config, error) {
	if dev.SSH == nil {
		return nil, fmt.Errorf("device %s has no ssh settings", dev.Name)
	}
	s := dev.SSH

	c := DefaultConfig(s.Host, s.User)
	c.Device = dev.Name
	if s.Port != 0 {
		c.Port = s.Port
	}
	if s.PrivateKeyPath != "" {
		c.AuthMethod = AuthMethodKey
		c.PrivateKeyPath = s.PrivateKeyPath
	} else {
		c.AuthMethod = AuthMethodPassword
		c.Password = s.Password
	}
	c.KnownHostsPath = s.KnownHostsPath
	c.StrictHostKeyChecking = s.StrictHostKeyChecking
	c.UseSudo = s.UseSudo
	if s.StagingDir != "" {
		c.StagingDir = s.StagingDir
	}
	if s.ConnectionTimeout > 0 {
		c.ConnectionTimeout = s.ConnectionTimeout
	}
	if s.CommandTimeout > 0 {
		c.CommandTimeout = s.CommandTimeout
	}
	return c, nil
}

// Validate reports every problem with c, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Host != "", "host is required")
	check(c.Port > 0 && c.Port <= 65535, "invalid port: %d", c.Port)
	check(c.User != "", "user is required")

	switch c.AuthMethod {
	case AuthMethodPassword:
		check(c.Password != "", "password is required for password authentication")
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			check(false, "private key path is required for key authentication")
		} else if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			check(false, "private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		check(false, "unsupported auth method: %s", c.AuthMethod)
	}

	check(!c.StrictHostKeyChecking || c.KnownHostsPath != "",
		"known hosts path is required for strict host key checking")
	check(c.ConnectionTimeout > 0, "connection timeout must be positive")
	check(c.CommandTimeout > 0, "command timeout must be positive")
	check(c.StagingDir != "", "staging directory is required")

	return errors.Join(errs...)
}

// BuildSSHClientConfig resolves credentials and the host key policy into an
// ssh.ClientConfig.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Switch and router sshd builds often offer only keyboard-interactive.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil

	case AuthMethodKey:
		keyPEM, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase == "" {
			signer, err = ssh.ParsePrivateKey(keyPEM)
		} else {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyPEM, []byte(c.PrivateKeyPassphrase))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", c.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
}

// hostKeyCallback verifies against KnownHostsPath when strict checking is on
// and accepts any key otherwise.
func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", c.KnownHostsPath, err)
	}
	return cb, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DeviceName returns the name used for the device in errors and logs.
func (c *Config) DeviceName() string {
	if c.Device != "" {
		return c.Device
	}
	return c.Host
}
