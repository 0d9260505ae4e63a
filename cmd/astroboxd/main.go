// astroboxd is the background process that owns every paired device's
// connection, authentication, and transfer state, and serves the ctlsock
// control surface astroboxctl talks to. Shaped on the teacher's krd/krd.go:
// set up logging, open the control socket, start serving, wait on a signal.
package main

import (
	"os"
	"os/signal"
	"syscall"

	golog "github.com/op/go-logging"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/config"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/ctlsock"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/daemon"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/logging"
)

func configPath() string {
	if v := os.Getenv("ASTROBOX_CONFIG"); v != "" {
		return v
	}
	return "/etc/astrobox/config.yaml"
}

var logLevelByName = map[string]golog.Level{
	"CRITICAL": golog.CRITICAL,
	"ERROR":    golog.ERROR,
	"WARNING":  golog.WARNING,
	"NOTICE":   golog.NOTICE,
	"INFO":     golog.INFO,
	"DEBUG":    golog.DEBUG,
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	defaultLevel := golog.INFO
	if lvl, ok := logLevelByName[cfg.LogLevel]; ok {
		defaultLevel = lvl
	}
	log := logging.Setup("astroboxd", defaultLevel)

	d := daemon.New(cfg, log)
	defer d.Stop()

	for _, dc := range cfg.Devices {
		if dc.ConnectType != "ble" {
			log.Notice("astroboxd: skipping", dc.Addr, "- connect_type", dc.ConnectType, "needs an externally supplied transport")
			continue
		}
		if err := d.ConnectBLE(dc); err != nil {
			log.Error("astroboxd: could not connect to", dc.Addr, ":", err)
		}
	}

	listener, err := ctlsock.Listen(cfg.CtlSock)
	if err != nil {
		log.Fatal("astroboxd: listen on ctlsock:", err)
	}
	defer listener.Close()

	server := ctlsock.New(d, log)
	go func() {
		if err := server.Serve(listener); err != nil {
			log.Error("astroboxd: ctlsock server stopped:", err)
		}
	}()

	log.Notice("astroboxd: listening on", cfg.CtlSock, "with", len(cfg.Devices), "configured device(s)")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	sig := <-stop
	log.Notice("astroboxd: stopping on signal", sig)
}
