package atts

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// newL2cap uses s to provide l2cap access.
func newL2cap(s Shim, server *Server) *l2cap {
	return &l2cap{
		shim:    s,
		readbuf: bufio.NewReader(s),
		server:  server,
	}
}

// l2cap multiplexes the l2cap shim's event stream.
// The shim carries one connection at a time.
type l2cap struct {
	shim    Shim
	readbuf *bufio.Reader
	sendmu  sync.Mutex // serializes writes to the shim
	server  *Server

	mu     sync.Mutex
	bearer *l2capBearer
	conn   *conn
	wg     sync.WaitGroup
}

func (l *l2cap) write(b []byte) (int, error) {
	l.sendmu.Lock()
	defer l.sendmu.Unlock()
	if _, err := fmt.Fprintf(l.shim, "%x\n", b); err != nil {
		return 0, errors.Wrap(err, "l2cap shim write")
	}
	return len(b), nil
}

// serve runs the shim event loop until ctx is done or the shim exits.
func (l *l2cap) serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.shim.Close()
	}()
	defer func() {
		l.hangup()
		l.wg.Wait()
	}()

	for {
		s, err := l.readbuf.ReadString('\n')
		if ctx.Err() != nil {
			return nil
		}
		if err == io.EOF {
			return errors.New("l2cap shim exited")
		}
		if err != nil {
			return errors.Wrap(err, "l2cap shim read")
		}
		f := strings.Fields(s)
		if len(f) < 2 {
			continue
		}
		if err := l.handleEvent(ctx, f[0], f[1]); err != nil {
			return err
		}
	}
}

func (l *l2cap) handleEvent(ctx context.Context, typ, arg string) error {
	log := l.server.log.WithField("event", typ)
	switch typ {
	case "accept":
		hw, err := net.ParseMAC(arg)
		if err != nil {
			return errors.Wrapf(err, "parse accepted addr %s", arg)
		}
		l.accept(ctx, hw)
	case "disconnect":
		l.hangup()
		if err := l.server.startAdvertising(); err != nil {
			return err
		}
	case "rssi":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return errors.Wrapf(err, "parse rssi %s", arg)
		}
		if c := l.current(); c != nil {
			c.setRSSI(n)
			if l.server.receiveRSSI != nil {
				l.server.receiveRSSI(c, n)
			}
		}
	case "security":
		var sec security
		switch arg {
		case "low":
			sec = securityLow
		case "medium":
			sec = securityMed
		case "high":
			sec = securityHigh
		default:
			return errors.Errorf("unexpected security change: %s", arg)
		}
		if c := l.current(); c != nil {
			c.setSecurity(sec)
			c.log.WithField("security", arg).Debug("security changed")
		}
	case "bdaddr":
		hw, err := net.ParseMAC(arg)
		if err != nil {
			return errors.Wrapf(err, "parse bdaddr %s", arg)
		}
		l.server.mu.Lock()
		l.server.addr = BDAddr{hw}
		l.server.mu.Unlock()
		log.WithField("addr", arg).Info("local address")
	case "hciDeviceId":
		log.WithField("hci", arg).Debug("l2cap shim bound")
	case "data":
		req, err := hex.DecodeString(arg)
		if err != nil {
			return errors.Wrapf(err, "decode l2cap data %s", arg)
		}
		l.mu.Lock()
		b := l.bearer
		l.mu.Unlock()
		if b == nil {
			log.WithFields(logrus.Fields{"data": arg}).Warn("data without connection")
			return nil
		}
		b.deliver(req)
	}
	return nil
}

func (l *l2cap) accept(ctx context.Context, hw net.HardwareAddr) {
	l.hangup()

	b := &l2capBearer{
		l:     l,
		readc: make(chan []byte),
		done:  make(chan struct{}),
	}
	c := l.server.newConn(b, BDAddr{hw})
	l.mu.Lock()
	l.bearer, l.conn = b, c
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.server.serveConn(ctx, c); err != nil {
			c.log.WithError(err).Warn("connection failed")
		}
	}()
}

// hangup ends the current connection after the shim reported
// it gone.
func (l *l2cap) hangup() {
	l.mu.Lock()
	b := l.bearer
	l.bearer, l.conn = nil, nil
	l.mu.Unlock()
	if b != nil {
		b.hangup()
	}
}

func (l *l2cap) current() *conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// An l2capBearer is the ATT bearer of one shim connection.
type l2capBearer struct {
	l        *l2cap
	readc    chan []byte
	done     chan struct{}
	doneOnce sync.Once
	hupOnce  sync.Once
}

func (b *l2capBearer) deliver(d []byte) {
	select {
	case b.readc <- d:
	case <-b.done:
	}
}

func (b *l2capBearer) Read(p []byte) (int, error) {
	select {
	case d := <-b.readc:
		if len(d) > len(p) {
			return 0, io.ErrShortBuffer
		}
		return copy(p, d), nil
	case <-b.done:
		return 0, io.EOF
	}
}

func (b *l2capBearer) Write(p []byte) (int, error) {
	select {
	case <-b.done:
		return 0, ErrNotConnected
	default:
	}
	return b.l.write(p)
}

// Close asks the shim to disconnect the central.
func (b *l2capBearer) Close() error {
	var err error
	select {
	case <-b.done:
	default:
		b.hupOnce.Do(func() {
			err = errors.Wrap(b.l.shim.Signal(syscall.SIGHUP), "l2cap shim disconnect")
		})
	}
	b.hangup()
	return err
}

func (b *l2capBearer) hangup() {
	b.doneOnce.Do(func() { close(b.done) })
}
