package ssh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/pathguard/pkg/transports"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

var errNotConnected = errors.New("not connected")

// Client holds one SSH connection to a device.
type Client struct {
	config *Config

	mu          sync.RWMutex
	conn        *ssh.Client
	connectedAt time.Time
	lastUsedAt  time.Time
	stop        chan struct{}
}

// NewClient creates a client. It does not connect.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

func (c *Client) newError(op string, err error, temporary bool) *transports.TransportError {
	return transports.NewError(op, c.config.DeviceName(), err, temporary)
}

// Connect establishes an SSH connection to the remote host. An existing live
// connection is reused.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := ping(c.conn); err == nil {
			return nil
		}
		log.Warn().Str("device", c.config.DeviceName()).Msg("existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return c.newError("connect", err, false)
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after we gave up.
		go func() {
			select {
			case conn := <-connChan:
				_ = conn.Close()
			case <-errChan:
			}
		}()
		return c.newError("connect", ctx.Err(), true)
	case err := <-errChan:
		return c.newError("connect", err, true)
	case conn := <-connChan:
		c.conn = conn
		c.connectedAt = time.Now()
		c.lastUsedAt = c.connectedAt
		c.stop = make(chan struct{})

		if c.config.KeepAliveInterval > 0 {
			go c.keepAlive(conn, c.stop)
		}

		log.Info().Str("address", address).Str("device", c.config.DeviceName()).Msg("SSH connection established")
		return nil
	}
}

// Disconnect closes the SSH connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	log.Debug().Str("device", c.config.DeviceName()).Msg("closing SSH connection")

	if err := c.closeLocked(); err != nil {
		return c.newError("disconnect", err, false)
	}
	return nil
}

func (c *Client) closeLocked() error {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// ConnectedAt returns when the current connection was established.
func (c *Client) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// Ping verifies the connection is alive by running a no-op command.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.Run(ctx, "true")
	return err
}

func ping(conn *ssh.Client) error {
	session, err := conn.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run("true")
}

func (c *Client) keepAlive(conn *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		_, _, err := conn.SendRequest("keepalive@openssh.com", true, nil)
		if err == nil {
			retries = 0
			continue
		}

		retries++
		log.Warn().Err(err).Int("retries", retries).Str("device", c.config.DeviceName()).Msg("keep-alive failed")
		if retries >= c.config.MaxKeepAliveRetries {
			log.Error().Str("device", c.config.DeviceName()).Msg("keep-alive failed too many times, connection may be dead")
			return
		}
	}
}

// client returns the underlying SSH connection.
func (c *Client) client() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, c.newError("session", errNotConnected, false)
	}

	c.lastUsedAt = time.Now()
	return c.conn, nil
}
