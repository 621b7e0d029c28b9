package ssh

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/transports"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// documentMode is the permission of staged configuration documents.
const documentMode = 0o640

// Transport drives a Linux device over SSH with ip(8) and sysfs.
type Transport struct {
	client *Client
	config *Config

	mu    sync.Mutex
	known map[string]intent.InterfaceEntry
}

var _ transports.Transport = (*Transport)(nil)

// New creates an SSH transport for the device described by cfg.
func New(cfg *Config) (*Transport, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Transport{
		client: client,
		config: cfg,
		known:  make(map[string]intent.InterfaceEntry),
	}, nil
}

// Client returns the underlying SSH client.
func (t *Transport) Client() *Client {
	return t.client
}

// DocumentPath is where full configuration documents are staged on the device.
func (t *Transport) DocumentPath() string {
	return path.Join(t.config.StagingDir, "pathguard-"+t.config.DeviceName()+".yaml")
}

// Connect implements transports.Transport.
func (t *Transport) Connect(ctx context.Context) error {
	return t.client.Connect(ctx)
}

// Disconnect implements transports.Transport.
func (t *Transport) Disconnect() error {
	return t.client.Disconnect()
}

// PushConfig implements transports.Transport. A full document is staged on
// the device before any interface is touched. A targeted document reuses the
// addresses of the last full push.
func (t *Transport) PushConfig(ctx context.Context, doc *intent.Document) error {
	if doc == nil {
		return t.client.newError("push", errors.New("nil document"), false)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	targeted := doc.IsTargeted()
	entries := make([]intent.InterfaceEntry, 0, len(doc.Network.Interfaces))
	var commands []string

	for _, entry := range doc.Network.Interfaces {
		if targeted {
			enabled := entry.Enabled
			if prev, ok := t.known[entry.Name]; ok {
				entry = prev
				entry.Enabled = enabled
			}
			// The MTU was applied with the full document.
			entry.MTU = 0
		}
		cmds, err := interfaceCommands(entry)
		if err != nil {
			return t.client.newError("push", err, false)
		}
		commands = append(commands, cmds...)
		entries = append(entries, entry)
	}

	if !targeted {
		data, err := doc.Marshal("yaml")
		if err != nil {
			return t.client.newError("push", err, false)
		}
		if err := t.client.Upload(ctx, data, t.DocumentPath(), documentMode); err != nil {
			return err
		}
	}

	if err := t.client.RunAll(ctx, commands); err != nil {
		return err
	}

	for _, entry := range entries {
		if prev, ok := t.known[entry.Name]; ok && targeted {
			prev.Enabled = entry.Enabled
			t.known[entry.Name] = prev
			continue
		}
		t.known[entry.Name] = entry
	}

	log.Debug().
		Str("device", t.config.DeviceName()).
		Bool("targeted", targeted).
		Int("interfaces", len(entries)).
		Int("commands", len(commands)).
		Msg("configuration applied")

	return nil
}

// CheckHealth implements transports.Transport. Health is the operstate of
// the interface.
func (t *Transport) CheckHealth(ctx context.Context, name string) (bool, error) {
	if err := checkInterfaceName(name); err != nil {
		return false, t.client.newError("health", err, false)
	}

	out, _, err := t.client.Run(ctx, healthCommand(name))
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return false, t.client.newError("health", fmt.Errorf("unknown interface %s", name), false)
		}
		return false, err
	}
	return parseOperState(out), nil
}

// ListInterfaces implements transports.Transport.
func (t *Transport) ListInterfaces(ctx context.Context) ([]transports.InterfaceStatus, error) {
	out, _, err := t.client.Run(ctx, listCommand)
	if err != nil {
		return nil, err
	}

	result, err := parseInterfaceListing(out)
	if err != nil {
		return nil, t.client.newError("list", err, false)
	}
	return result, nil
}
