// Package mount manages the network share session for off-site
// replication: probe the host, mount the share for the duration of a run,
// and unmount on the way out without disturbing operator-managed mounts.
package mount

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
)

// Type represents the type of network mount.
type Type string

const (
	// TypeNFS represents an NFS mount.
	TypeNFS Type = "nfs"
	// TypeSMB represents an SMB mount.
	TypeSMB Type = "smb"
	// TypeCIFS represents a CIFS mount.
	TypeCIFS Type = "cifs"
)

// State is the session's position in its lifecycle.
type State string

const (
	StateUnmounted State = "unmounted"
	StateMounting  State = "mounting"
	StateMounted   State = "mounted"
	// StateDegraded means probe or mount failed this run; the pipeline
	// continues local-only.
	StateDegraded State = "degraded"
)

// Runner executes mount and unmount commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, folding stderr into the error.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %s: %w", name, msg, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Session brings the share up for one pipeline run. Acquire is
// idempotent. Release unmounts only what this session itself mounted: a
// share the operator mounted beforehand stays mounted.
type Session struct {
	typ          Type
	host         string
	share        string
	mountPoint   string
	options      string
	probePort    int
	probeTimeout time.Duration
	retryBudget  uint64
	retryBackoff time.Duration
	logger       dr.Logger
	runner       Runner

	// overridable in tests
	dial       func(network, addr string, timeout time.Duration) (net.Conn, error)
	checkMount func(path string) (bool, error)

	mu          sync.Mutex
	state       State
	mountedByUs bool
}

// NewSessionFromConfig builds a share session from configuration. The
// probe port defaults by share type when unset.
func NewSessionFromConfig(nas *config.NASConfig, limits *config.LimitsConfig, logger dr.Logger, runner Runner) (*Session, error) {
	typ := Type(nas.Type)
	switch typ {
	case TypeNFS, TypeSMB, TypeCIFS:
	default:
		return nil, fmt.Errorf("unsupported share type: %q", nas.Type)
	}
	port := nas.ProbePort
	if port == 0 {
		if typ == TypeNFS {
			port = 2049
		} else {
			port = 445
		}
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Session{
		typ:          typ,
		host:         nas.Host,
		share:        nas.Share,
		mountPoint:   nas.MountPoint,
		options:      nas.Options,
		probePort:    port,
		probeTimeout: time.Duration(nas.ProbeTimeoutSec) * time.Second,
		retryBudget:  uint64(limits.RetryAttempts),
		retryBackoff: time.Duration(limits.RetryBackoffSec) * time.Second,
		logger:       logger,
		runner:       runner,
		dial:         net.DialTimeout,
		checkMount:   isMountPoint,
		state:        StateUnmounted,
	}, nil
}

// Acquire brings the share online: reachability probe first, then mount.
// A share already mounted at the mount point is adopted without
// remounting and will not be unmounted by Release.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateMounted {
		return nil
	}
	s.state = StateMounting

	mounted, err := s.checkMount(s.mountPoint)
	if err != nil {
		s.logger.Warn("mount point check failed", "path", s.mountPoint, "error", err)
	}
	if mounted {
		s.state = StateMounted
		s.mountedByUs = false
		s.logger.Info("share already mounted", "path", s.mountPoint)
		return nil
	}

	if err := s.probe(ctx); err != nil {
		s.state = StateDegraded
		return fmt.Errorf("share host %s unreachable: %w", s.host, err)
	}
	if err := os.MkdirAll(s.mountPoint, 0755); err != nil {
		s.state = StateDegraded
		return fmt.Errorf("creating mount point: %w", err)
	}
	name, args := s.mountCommand()
	if err := s.runner.Run(ctx, name, args...); err != nil {
		s.state = StateDegraded
		return fmt.Errorf("mounting %s: %w", s.mountPoint, err)
	}
	s.state = StateMounted
	s.mountedByUs = true
	s.logger.Info("share mounted", "path", s.mountPoint, "host", s.host)
	return nil
}

// Release unmounts if and only if this session mounted the share. It is
// safe to call on every exit path.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateMounted {
		s.state = StateUnmounted
		return nil
	}
	if !s.mountedByUs {
		s.state = StateUnmounted
		return nil
	}
	err := s.runner.Run(context.Background(), "umount", s.mountPoint)
	s.state = StateUnmounted
	s.mountedByUs = false
	if err != nil {
		return fmt.Errorf("unmounting %s: %w", s.mountPoint, err)
	}
	s.logger.Info("share unmounted", "path", s.mountPoint)
	return nil
}

// Mounted reports whether the session is currently in the mounted state.
func (s *Session) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateMounted
}

// Path returns the local mount point.
func (s *Session) Path() string { return s.mountPoint }

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// probe checks TCP reachability of the share host with the session's
// fixed retry budget. A host that is down fails here in seconds instead
// of hanging a mount command for minutes.
func (s *Session) probe(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.probePort))
	backoff := retry.WithMaxRetries(s.retryBudget, retry.NewConstant(s.retryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := s.dial("tcp", addr, s.probeTimeout)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn.Close()
		return nil
	})
}

func (s *Session) mountCommand() (string, []string) {
	var src string
	var args []string
	switch s.typ {
	case TypeNFS:
		src = fmt.Sprintf("%s:%s", s.host, s.share)
		args = []string{"-t", "nfs"}
	default: // smb and cifs both mount as cifs
		src = fmt.Sprintf("//%s/%s", s.host, strings.TrimPrefix(s.share, "/"))
		args = []string{"-t", "cifs"}
	}
	if s.options != "" {
		args = append(args, "-o", s.options)
	}
	args = append(args, src, s.mountPoint)
	return "mount", args
}

// Compile-time check that Session implements dr.MountManager
var _ dr.MountManager = (*Session)(nil)
