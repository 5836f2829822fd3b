// Package remote implements the remote WMS launcher adapter (§6): submit
// copies the rendered script to a submit host over SSH and invokes the
// site's batch-submission wrapper (condor_submit, sbatch, ...); check and
// cancel run the matching query/removal command over the same connection.
// It is grounded on transport.buildSSHConfig/ssh.Dial (transport/ssh.go),
// generalized from an HTTP-tunnel transport into a plain remote-command
// launcher — this adapter never tunnels HTTP, so it dials its own SSH
// client rather than going through transport.SSHTunnelTransport.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"cm.lsst.io/node"
)

// Config describes the submit host and the site-specific commands used to
// submit, query, and cancel a job. SubmitCommand/StatusCommand/CancelCommand
// are shell templates; "%s" is replaced with the remote script path (submit)
// or the site job id (status/cancel).
type Config struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	Password   string
	KnownHosts string
	Timeout    time.Duration

	RemoteDir     string // where scripts are copied to before submission
	SubmitCommand string // e.g. "condor_submit %s"
	StatusCommand string // e.g. "condor_q %s -autoformat JobStatus"
	CancelCommand string // e.g. "condor_rm %s"
}

// Launcher runs campaign node scripts on a remote submit host via SSH. It
// satisfies node.Launcher.
type Launcher struct {
	cfg Config

	mu   sync.Mutex
	jobs map[string]string // submitID -> site job id
}

// New returns a Launcher that dials cfg.Host for every Submit/Check/Cancel
// call. Connections are short-lived: one SSH session per remote command,
// matching the submit-host's expectation of independent batch invocations.
func New(cfg Config) *Launcher {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/tmp/campaign-manager"
	}
	return &Launcher{cfg: cfg, jobs: make(map[string]string)}
}

func buildSSHConfig(cfg Config) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("remote: read ssh key: %w", err)
		}
		var signer ssh.Signer
		if cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("remote: parse ssh key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" && cfg.KeyFile == "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("remote: no ssh auth method configured (need KeyFile or Password)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("remote: load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}, nil
}

func (l *Launcher) dial() (*ssh.Client, error) {
	sshConfig, err := buildSSHConfig(l.cfg)
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	return client, nil
}

// run opens a single session on client and executes command, returning its
// combined stdout/stderr.
func run(client *ssh.Client, command string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("remote: new session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out
	if err := session.Run(command); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// copyScript writes content to remotePath on client via a literal stdin
// redirect — no SFTP subsystem is assumed to be enabled on the submit host.
func copyScript(client *ssh.Client, remoteDir, remotePath string, content []byte) error {
	if _, err := run(client, fmt.Sprintf("mkdir -p %s", remoteDir)); err != nil {
		return fmt.Errorf("remote: mkdir %s: %w", remoteDir, err)
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("remote: new session: %w", err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(content)
	cmd := fmt.Sprintf("cat > %s && chmod +x %s", remotePath, remotePath)
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("remote: write script: %w", err)
	}
	return nil
}

// Submit copies the rendered script read from scriptPath to the remote
// submit host and invokes cfg.SubmitCommand against it, returning an opaque
// submit id that resolves to the site job id parsed from the command's
// output.
func (l *Launcher) Submit(ctx context.Context, scriptPath string, env map[string]string) (string, error) {
	content, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", fmt.Errorf("remote: read script: %w", err)
	}

	client, err := l.dial()
	if err != nil {
		return "", err
	}
	defer client.Close()

	remotePath := l.cfg.RemoteDir + "/" + fmt.Sprintf("%d.sh", time.Now().UnixNano())
	if err := copyScript(client, l.cfg.RemoteDir, remotePath, content); err != nil {
		return "", err
	}

	var envPrefix strings.Builder
	for k, v := range env {
		fmt.Fprintf(&envPrefix, "%s=%q ", k, v)
	}

	out, err := run(client, envPrefix.String()+fmt.Sprintf(l.cfg.SubmitCommand, remotePath))
	if err != nil {
		return "", fmt.Errorf("remote: submit: %w: %s", err, out)
	}

	jobID := parseJobID(out)
	if jobID == "" {
		return "", fmt.Errorf("remote: could not parse job id from submit output: %s", out)
	}

	submitID := remotePath
	l.mu.Lock()
	l.jobs[submitID] = jobID
	l.mu.Unlock()
	return submitID, nil
}

// parseJobID takes the last non-blank line of a submit command's output as
// the site job id; batch wrappers are conventionally configured (via
// SubmitCommand) to print nothing else on success.
func parseJobID(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// Check runs cfg.StatusCommand against the site job id for submitID and
// classifies its output the same way the Group FSM classifies a WMS report
// (§4.3): FINISHED/COMPLETED → accepted, HELD → blocked, anything else
// recognizable as terminal → failed, otherwise still running.
func (l *Launcher) Check(ctx context.Context, submitID string) (*node.LaunchStatus, error) {
	l.mu.Lock()
	jobID, ok := l.jobs[submitID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("remote: unknown submit id %q", submitID)
	}

	client, err := l.dial()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	out, err := run(client, fmt.Sprintf(l.cfg.StatusCommand, jobID))
	if err != nil {
		return nil, fmt.Errorf("remote: status: %w: %s", err, out)
	}

	status := strings.ToUpper(strings.TrimSpace(out))
	switch {
	case strings.Contains(status, "FINISHED"), strings.Contains(status, "COMPLETED"):
		return &node.LaunchStatus{Success: true}, nil
	case strings.Contains(status, "HELD"):
		return &node.LaunchStatus{Reason: status, Blocked: true}, nil
	case strings.Contains(status, "FAILED"), strings.Contains(status, "REMOVED"):
		return &node.LaunchStatus{Reason: status}, nil
	case strings.Contains(status, "RUNNING"), strings.Contains(status, "IDLE"), strings.Contains(status, "PENDING"):
		return &node.LaunchStatus{Running: true}, nil
	default:
		return &node.LaunchStatus{Running: true}, nil
	}
}

// Cancel runs cfg.CancelCommand against the site job id for submitID.
func (l *Launcher) Cancel(ctx context.Context, submitID string) (bool, error) {
	l.mu.Lock()
	jobID, ok := l.jobs[submitID]
	l.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("remote: unknown submit id %q", submitID)
	}

	client, err := l.dial()
	if err != nil {
		return false, err
	}
	defer client.Close()

	if _, err := run(client, fmt.Sprintf(l.cfg.CancelCommand, jobID)); err != nil {
		return false, fmt.Errorf("remote: cancel: %w", err)
	}
	return true, nil
}
