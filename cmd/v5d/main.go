// v5d is the daemon that owns the physical connection to a VEX V5 brain and
// shares it with local tools over a unix socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vexide/v5ctl/internal/api"
	"github.com/vexide/v5ctl/internal/daemon"
	"github.com/vexide/v5ctl/internal/transport"
	"github.com/vexide/v5ctl/internal/version"
)

func main() {
	connection := flag.String("connection", "auto", "transport to the brain: serial, bluetooth or auto")
	socket := flag.String("socket", api.SocketPath(), "unix socket path to listen on")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("v5d %s (%s)\n", version.VERSION, version.Commit)
		return
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.Start(ctx, daemon.Config{
		SocketPath: *socket,
		Mode:       transport.ParseMode(*connection),
	})
	if err != nil {
		logrus.WithError(err).Error("failed to start v5d")
		os.Exit(1)
	}
	if err := d.Run(ctx); err != nil {
		logrus.WithError(err).Error("v5d exited")
		os.Exit(1)
	}
}
