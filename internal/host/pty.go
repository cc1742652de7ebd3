package host

import (
	"fmt"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// PTY is a pseudo-terminal the host application opens by path. The server reads requests
// from and writes replies to the master side.
type PTY struct {
	master *os.File
	slave  *os.File
}

// OpenPTY creates a master/slave pair with the slave in raw mode. The slave stays open for
// the PTY lifetime so the device node exists until Close.
func OpenPTY() (*PTY, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		name := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w", name, err)
	}
	return &PTY{master: master, slave: slave}, nil
}

// Name returns the slave path, e.g. "/dev/pts/5".
func (p *PTY) Name() string { return p.slave.Name() }

func (p *PTY) Read(b []byte) (int, error)  { return p.master.Read(b) }
func (p *PTY) Write(b []byte) (int, error) { return p.master.Write(b) }

func (p *PTY) Close() error {
	merr := p.master.Close()
	serr := p.slave.Close()
	if merr != nil {
		return fmt.Errorf("close PTY(master): %w", merr)
	}
	if serr != nil {
		return fmt.Errorf("close PTY(tty): %w", serr)
	}
	return nil
}
