package atts

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A Shim provides mediated access to BLE through a helper process.
// The hci shim advertises and reports adapter state; the l2cap shim
// accepts connections and carries ATT PDUs.
type Shim interface {
	io.ReadWriteCloser
	Signal(os.Signal) error
	Wait() error
}

// cshim provides access to BLE via an external c executable.
type cshim struct {
	cmd *exec.Cmd
	io.Reader
	io.Writer
}

// StartShim starts the shim executable named file using the provided args.
// dev selects the HCI device and is passed through the environment.
func StartShim(file, dev string, arg ...string) (Shim, error) {
	c := new(cshim)
	var err error
	if file, err = exec.LookPath(file); err != nil {
		return nil, errors.Wrapf(err, "find shim %s", file)
	}
	c.cmd = exec.Command(file, arg...)
	c.cmd.Stderr = os.Stderr
	if dev = cleanHCIDevice(dev); dev != "" {
		c.cmd.Env = append(os.Environ(), "BLENO_HCI_DEVICE_ID="+dev)
	}
	if c.Writer, err = c.cmd.StdinPipe(); err != nil {
		return nil, errors.Wrapf(err, "shim %s stdin", file)
	}
	if c.Reader, err = c.cmd.StdoutPipe(); err != nil {
		return nil, errors.Wrapf(err, "shim %s stdout", file)
	}
	if err = c.cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start shim %s", file)
	}
	return c, nil
}

func (c *cshim) Wait() error                { return c.cmd.Wait() }
func (c *cshim) Close() error               { return c.cmd.Process.Kill() }
func (c *cshim) Signal(sig os.Signal) error { return c.cmd.Process.Signal(sig) }

// cleanHCIDevice returns the numeric id of an HCI device name
// such as "hci1" or "1", or "" if dev does not name one.
func cleanHCIDevice(dev string) string {
	dev = strings.TrimPrefix(dev, "hci")
	if dev == "" {
		return ""
	}
	n, err := strconv.Atoi(dev)
	if err != nil || n < 0 {
		return ""
	}
	return dev
}
