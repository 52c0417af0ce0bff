package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/timepulse/timepulse/cmd/common"
	"github.com/timepulse/timepulse/internal/syncer/remote"
)

var serveRemoteFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "addr",
		Usage: "listen address",
		Value: "127.0.0.1:7434",
	},
}

func serveRemote(ctx *cli.Context) error {
	l, err := net.Listen("tcp", ctx.String("addr"))
	if err != nil {
		common.PrintRuntimeErr(ctx, "serve-remote", "listen", err)
		return nil
	}
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serveRemoteOn(sigCtx, l, ctx.App.Writer)
}

func serveRemoteOn(ctx context.Context, l net.Listener, w io.Writer) error {
	srv := &http.Server{Handler: remote.NewMemory().Handler()}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	fmt.Fprintf(w, "Remote store listening on http://%s\n", l.Addr())
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
