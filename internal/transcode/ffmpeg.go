package transcode

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// reapDelay bounds how long Wait blocks on the process's pipes after the
// kill. A surviving descendant can hold the stderr write end open; without
// the bound, Wait would park for that descendant's lifetime.
const reapDelay = 5 * time.Second

// RemuxConfig holds all parameters for building the ffmpeg remux argument
// list. This is a value type, pass it by value to buildRemuxArgs.
type RemuxConfig struct {
	Input        string // http URL of the source stream
	SeekSeconds  int64
	AudioBitrate string // e.g. "128k"
	AuthHeader   string // Authorization header value for the input URL
}

// buildRemuxArgs constructs the ffmpeg argument list for a copy-video,
// re-encode-audio remux to Matroska on stdout. Pure function.
func buildRemuxArgs(cfg RemuxConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}

	if cfg.AuthHeader != "" {
		args = append(args, "-headers", "Authorization: "+cfg.AuthHeader+"\r\n")
	}
	if strings.HasPrefix(cfg.Input, "http://") || strings.HasPrefix(cfg.Input, "https://") {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1")
	}

	if cfg.SeekSeconds > 0 {
		args = append(args, "-ss", strconv.FormatInt(cfg.SeekSeconds, 10))
	}

	bitrate := cfg.AudioBitrate
	if bitrate == "" {
		bitrate = "128k"
	}

	args = append(args,
		"-i", cfg.Input,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", bitrate,
		"-ac", "2",
		"-f", "matroska",
		"pipe:1",
	)
	return args
}

// Process wraps a running ffmpeg remux. Its encoded output is read from
// Stdout; Stop kills the process; Done is closed once it exits.
type Process struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	stdout    io.ReadCloser
	done      chan struct{}
	err       error
	stderrBuf bytes.Buffer
}

// NewProcess creates an ffmpeg remux process but does not start it.
func NewProcess(ctx context.Context, ffmpegPath string, cfg RemuxConfig) *Process {
	ctx2, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx2, ffmpegPath, buildRemuxArgs(cfg)...)
	cmd.WaitDelay = reapDelay
	return &Process{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches ffmpeg and wires its stdout for reading.
func (p *Process) Start() error {
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		p.cancel()
		return err
	}
	p.cmd.Stderr = &p.stderrBuf

	if err := p.cmd.Start(); err != nil {
		p.cancel()
		return err
	}
	p.stdout = stdout

	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()
	return nil
}

// Stdout returns the remuxed output stream. Valid after Start.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stop cancels the process context, killing ffmpeg if still running.
func (p *Process) Stop() {
	p.cancel()
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stderr returns the accumulated stderr output.
func (p *Process) Stderr() string {
	return strings.TrimSpace(p.stderrBuf.String())
}
