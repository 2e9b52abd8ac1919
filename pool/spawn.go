package pool

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// SpawnOptions controls how Chromium worker processes are launched.
type SpawnOptions struct {
	// Headless controls whether workers run headless.
	Headless bool // default: true

	// Bin overrides the Chromium binary path.
	Bin string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool

	// Proxy is an optional proxy URL applied to every worker.
	Proxy string

	// PortTimeout bounds the wait for a freshly spawned worker's control
	// port to accept connections.
	PortTimeout time.Duration // default: 8s

	// ProbeTimeout bounds a single liveness dial against the control port.
	ProbeTimeout time.Duration // default: 500ms
}

// ChromiumSpawner returns a SpawnFunc that launches a Chromium process on an
// ephemeral local debug port via the rod launcher and waits until the port
// accepts connections.
func ChromiumSpawner(opts SpawnOptions) SpawnFunc {
	if opts.PortTimeout <= 0 {
		opts.PortTimeout = 8 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 500 * time.Millisecond
	}

	return func(id string) (*Worker, error) {
		port, err := freePort()
		if err != nil {
			return nil, fmt.Errorf("allocate debug port: %w", err)
		}

		l := launcher.New().
			Headless(opts.Headless).
			NoSandbox(opts.NoSandbox).
			Leakless(true).
			Set(flags.RemoteDebuggingPort, strconv.Itoa(port))

		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		if opts.Proxy != "" {
			l = l.Proxy(opts.Proxy)
		}

		// Keep background pages quiet and predictable.
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
		l.Set(flags.Flag("disable-background-timer-throttling"))
		l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
		l.Set(flags.Flag("disable-component-update"))
		l.Set(flags.Flag("disable-default-apps"))
		l.Set(flags.Flag("disable-dev-shm-usage"))
		l.Set(flags.Flag("disable-extensions"))
		l.Set(flags.Flag("disable-sync"))
		l.Set(flags.Flag("no-first-run"))

		controlURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium for %s: %w", id, err)
		}

		if err := waitPortReady(port, opts.PortTimeout); err != nil {
			l.Kill()
			return nil, fmt.Errorf("worker %s control port not ready: %w", id, err)
		}

		return &Worker{
			Port:       port,
			ControlURL: controlURL,
			Proc: &chromiumProcess{
				launcher:     l,
				pid:          l.PID(),
				port:         port,
				probeTimeout: opts.ProbeTimeout,
			},
		}, nil
	}
}

// chromiumProcess implements Process for launcher-managed Chromium.
type chromiumProcess struct {
	launcher     *launcher.Launcher
	pid          int
	port         int
	probeTimeout time.Duration
}

// Alive combines a process-alive check with a control-port connectivity
// probe, matching the pool's liveness contract.
func (c *chromiumProcess) Alive() bool {
	proc, err := os.FindProcess(c.pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(c.port)), c.probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Kill terminates the browser process and reaps it.
func (c *chromiumProcess) Kill() {
	c.launcher.Kill()
}

// freePort asks the kernel for an ephemeral local port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port, nil
}

// waitPortReady dials the control port until it accepts a connection or the
// timeout elapses.
func waitPortReady(port int, timeout time.Duration) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	started := time.Now()
	for time.Since(started) < timeout {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(120 * time.Millisecond)
	}
	return fmt.Errorf("port %d not ready after %s", port, timeout)
}
