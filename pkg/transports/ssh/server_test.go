package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// reply is a canned command result.
type reply struct {
	stdout string
	stderr string
	status uint32
}

// testSSHServer is a minimal SSH server that answers exec requests from a
// handler, records every command, and serves SFTP against the local disk.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}

	mu       sync.Mutex
	handler  func(cmd string) reply
	commands []string
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
		handler:  func(string) reply { return reply{} },
	}
	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *testSSHServer) handle(fn func(cmd string) reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

func (s *testSSHServer) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// clientConfig returns a password-authenticated config for the server.
func (s *testSSHServer) clientConfig(t *testing.T) *Config {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		t.Fatalf("bad server address %s: %v", s.addr, err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := DefaultConfig(host, "testuser")
	cfg.Device = "lab"
	cfg.Port = port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "testpass"
	cfg.StrictHostKeyChecking = false
	cfg.ConnectionTimeout = 5 * time.Second
	cfg.CommandTimeout = 5 * time.Second
	cfg.KeepAliveInterval = 0
	cfg.StagingDir = t.TempDir()
	return cfg
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				return
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			handler := s.handler
			s.mu.Unlock()

			r := handler(payload.Command)
			if r.stdout != "" {
				channel.Write([]byte(r.stdout))
			}
			if r.stderr != "" {
				channel.Stderr().Write([]byte(r.stderr))
			}
			channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{r.status}))
			return

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go ssh.DiscardRequests(requests)

			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			server.Serve()
			server.Close()
			return

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) close() {
	close(s.done)
	s.listener.Close()
}
