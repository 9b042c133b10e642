// Command custsvcd serves the customized GATT service through the bleno
// hci and l2cap shims.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/XC-/atts"
	"github.com/XC-/atts/config"
	"github.com/XC-/atts/custsvc"
)

var (
	flgConfig = cli.StringFlag{Name: "config, c", Usage: "YAML configuration file"}
	flgName   = cli.StringFlag{Name: "name, n", Usage: "advertised device name"}
	flgDevice = cli.StringFlag{Name: "device, d", Usage: "HCI device, e.g. hci0"}
	flgHCI    = cli.StringFlag{Name: "hci-shim", Usage: "path of the bleno hci shim"}
	flgL2cap  = cli.StringFlag{Name: "l2cap-shim", Usage: "path of the bleno l2cap shim"}
	flgDescr  = cli.BoolFlag{Name: "descriptions", Usage: "add user description descriptors"}
	flgLevel  = cli.StringFlag{Name: "log-level, l", Usage: "logrus level"}
	flgFeed   = cli.BoolFlag{Name: "feed", Usage: "notify a synthetic ECG feed"}
)

func main() {
	app := cli.NewApp()

	app.Name = "custsvcd"
	app.Usage = "Serve the customized GATT service"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{flgConfig, flgName, flgDevice, flgHCI, flgL2cap, flgDescr, flgLevel, flgFeed}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "custsvcd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies the flags over it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("name") {
		cfg.Name = c.String("name")
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("hci-shim") {
		cfg.HCIShim = c.String("hci-shim")
	}
	if c.IsSet("l2cap-shim") {
		cfg.L2capShim = c.String("l2cap-shim")
	}
	if c.IsSet("descriptions") {
		cfg.UserDescriptions = true
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("feed") {
		cfg.Feed.Enabled = true
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logrus.New()
	log.SetLevel(cfg.Level())

	srv := atts.NewServer(
		atts.Name(cfg.Name),
		atts.Logger(log),
		atts.MaxMTU(cfg.MaxMTU),
		atts.IndicationTimeout(cfg.IndicationTimeout),
		atts.StateChange(func(s string) { log.WithField("state", s).Info("adapter state") }),
		atts.Connect(func(c atts.Conn) { log.WithField("remote", c.RemoteAddr()).Info("connect") }),
		atts.Disconnect(func(c atts.Conn) { log.WithField("remote", c.RemoteAddr()).Info("disconnect") }),
		atts.CCCChange(func(c atts.Conn, h uint16, ccc uint16) {
			log.WithFields(logrus.Fields{
				"remote": c.RemoteAddr(),
				"handle": fmt.Sprintf("0x%04X", h),
				"ccc":    ccc,
			}).Info("subscription changed")
		}),
	)

	svc := custsvc.New(
		custsvc.WithStartHandle(cfg.StartHandle),
		custsvc.WithUserDescriptions(cfg.UserDescriptions),
		custsvc.WithLogger(log),
	)
	if err := svc.AddGroup(srv); err != nil {
		return err
	}
	svc.RegisterCallbacks(readHandler(log), writeHandler(log, svc))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.HCIShim, cfg.L2capShim, cfg.Device)
	})
	if cfg.Feed.Enabled {
		f := newFeed(svc, cfg.Feed, log)
		g.Go(func() error { return f.run(ctx) })
	}
	err = g.Wait()
	if errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}

// readHandler answers reads of the read-only characteristic with the
// current time.
func readHandler(log logrus.FieldLogger) atts.ReadHandler {
	return atts.ReadHandlerFunc(func(resp atts.ReadResponseWriter, req *atts.ReadRequest) {
		v := []byte(time.Now().Format("15:04:05.000"))
		if len(v) > req.Cap {
			v = v[:req.Cap]
		}
		resp.Write(v)
		log.WithFields(logrus.Fields{
			"remote": req.Conn.RemoteAddr(),
			"offset": req.Offset,
		}).Debug("read-only characteristic read")
	})
}

// writeHandler logs writes to the write-only characteristic and
// echoes them through the indication characteristic.
func writeHandler(log logrus.FieldLogger, svc *custsvc.Service) atts.WriteHandler {
	return atts.WriteHandlerFunc(func(r atts.Request, data []byte) byte {
		log.WithFields(logrus.Fields{
			"remote": r.Conn.RemoteAddr(),
			"data":   fmt.Sprintf("%x", data),
		}).Info("write-only characteristic written")
		v := append([]byte(nil), data...)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := svc.Indicate(ctx, v); err != nil {
				log.WithError(err).Warn("echo indication")
			}
		}()
		return atts.StatusSuccess
	})
}
