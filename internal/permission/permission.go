// Package permission provides the location and scan-permission collaborators used by the
// scan session when running on a desktop host.
package permission

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/blehelper/internal/device"
	"golang.org/x/term"
)

// ParseStatus parses a configured answer: "granted", "denied" or "prompt" (unknown).
func ParseStatus(s string) (device.PermissionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return device.PermissionGranted, nil
	case "denied":
		return device.PermissionDenied, nil
	case "prompt", "":
		return device.PermissionUnknown, nil
	default:
		return device.PermissionUnknown, fmt.Errorf("invalid permission %q (expected granted, denied or prompt)", s)
	}
}

// Static answers from configuration and never asks.
type Static struct {
	Location bool
	Answer   device.PermissionStatus
}

func (s Static) Enabled() bool { return s.Location }

func (s Static) Status() device.PermissionStatus { return s.Answer }

// Request answers asynchronously with the configured status; unknown counts as denied.
func (s Static) Request(answer func(granted bool)) {
	granted := s.Answer == device.PermissionGranted
	go answer(granted)
}

// Prompt asks on the controlling terminal the first time a scan needs permission and
// remembers the answer for the rest of the process. Without a terminal it answers Fallback.
type Prompt struct {
	Fallback bool

	in    io.Reader
	out   io.Writer
	isTTY bool

	mu      sync.Mutex
	status  device.PermissionStatus
	pending []func(bool)
}

// NewPrompt prompts on out and reads the answer from in.
func NewPrompt(in *os.File, out io.Writer, fallback bool) *Prompt {
	return &Prompt{
		Fallback: fallback,
		in:       in,
		out:      out,
		isTTY:    term.IsTerminal(int(in.Fd())),
	}
}

func (p *Prompt) Status() device.PermissionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Prompt) Request(answer func(granted bool)) {
	p.mu.Lock()
	switch p.status {
	case device.PermissionGranted, device.PermissionDenied:
		granted := p.status == device.PermissionGranted
		p.mu.Unlock()
		go answer(granted)
		return
	}
	p.pending = append(p.pending, answer)
	asking := len(p.pending) > 1
	p.mu.Unlock()
	if !asking {
		go p.ask()
	}
}

func (p *Prompt) ask() {
	granted := p.Fallback
	if p.isTTY {
		granted = p.read()
	}

	p.mu.Lock()
	if granted {
		p.status = device.PermissionGranted
	} else {
		p.status = device.PermissionDenied
	}
	waiters := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w(granted)
	}
}

func (p *Prompt) read() bool {
	yellow := color.New(color.FgYellow, color.Bold)
	_, _ = yellow.Fprint(p.out, "Allow this program to scan for Bluetooth devices? [y/N] ")
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
