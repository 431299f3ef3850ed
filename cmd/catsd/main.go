// Command catsd runs a demo CATS server: an echo handler, a versioned
// greeting handler, and an interactive "are you ok" handler, wired through
// the full dispatch/middleware/channel machinery.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/handshake"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/internal/nlog"
	"github.com/cifrazia/cats-go/server"
	"github.com/cifrazia/cats-go/transport"
)

func main() {
	var (
		host         string
		port         int
		useHandshake bool
		inputTimeout time.Duration
		idleTimeout  time.Duration
		useTLS       bool
		tlsCert      string
		tlsKey       string
		debug        bool
	)
	flag.StringVar(&host, "host", "0.0.0.0", "listen address")
	flag.StringVar(&host, "H", "0.0.0.0", "listen address (shorthand)")
	flag.IntVar(&port, "port", 9090, "listen port")
	flag.IntVar(&port, "P", 9090, "listen port (shorthand)")
	flag.BoolVar(&useHandshake, "handshake", false, "require the SHA-256 time handshake (secret from HANDSHAKE_SECRET)")
	flag.DurationVar(&inputTimeout, "input-timeout", transport.DefaultInputTimeout, "per-input reply timeout")
	flag.DurationVar(&idleTimeout, "idle-timeout", transport.DefaultIdleTimeout, "idle connection timeout (0 disables)")
	flag.BoolVar(&useTLS, "tls", false, "serve over TLS")
	flag.BoolVar(&useTLS, "T", false, "serve over TLS (shorthand)")
	flag.StringVar(&tlsCert, "tls-cert", "", "TLS certificate file")
	flag.StringVar(&tlsKey, "tls-key", "", "TLS key file")
	flag.BoolVar(&debug, "debug", false, "debug logging")
	flag.BoolVar(&debug, "D", false, "debug logging (shorthand)")
	flag.Parse()

	nlog.SetDebug(debug)

	opts := []transport.Option{
		transport.WithIdleTimeout(idleTimeout),
		transport.WithInputTimeout(inputTimeout),
		transport.WithDebug(debug),
	}
	if useHandshake {
		secret := os.Getenv("HANDSHAKE_SECRET")
		if secret == "" {
			fmt.Fprintln(os.Stderr, "catsd: --handshake requires HANDSHAKE_SECRET")
			os.Exit(2)
		}
		opts = append(opts, transport.WithHandshake(handshake.New([]byte(secret))))
	}

	api := server.NewApi()
	mustRegister(api, &server.HandlerItem{ID: 0x0001, Name: "echo", Fn: echoHandler})
	mustRegister(api, &server.HandlerItem{ID: 0x0002, Name: "version.v1", Version: 1, EndVersion: 2, Fn: versionHandler(1)})
	mustRegister(api, &server.HandlerItem{ID: 0x0002, Name: "version.v2", Version: 3, EndVersion: 4, Fn: versionHandler(2)})
	mustRegister(api, &server.HandlerItem{ID: 0x0003, Name: "ask", Fn: askHandler})

	rt := server.NewRuntime()
	srv := server.New(rt, api, server.Options{Config: transport.New(opts...)})

	addr := fmt.Sprintf("%s:%d", host, port)
	var ln net.Listener
	var err error
	if useTLS {
		cert, cerr := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if cerr != nil {
			fmt.Fprintf(os.Stderr, "catsd: %v\n", cerr)
			os.Exit(2)
		}
		ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "catsd: %v\n", err)
		os.Exit(2)
	}
	nlog.Infof("catsd: listening on %s", addr)

	if err := srv.Serve(context.Background(), ln); err != nil {
		if catserr.Is(err, catserr.KindStreamClosed) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "catsd: %v\n", err)
		os.Exit(2)
	}
}

func mustRegister(api *server.Api, item *server.HandlerItem) {
	if err := api.Register(item); err != nil {
		fmt.Fprintf(os.Stderr, "catsd: %v\n", err)
		os.Exit(2)
	}
}

func echoHandler(_ context.Context, _ *transport.Conn, msg *transport.Message) (any, headers.Headers, error) {
	return msg.Data, nil, nil
}

func versionHandler(version int) server.HandlerFunc {
	return func(context.Context, *transport.Conn, *transport.Message) (any, headers.Headers, error) {
		return map[string]any{"version": version}, nil, nil
	}
}

func askHandler(ctx context.Context, c *transport.Conn, msg *transport.Message) (any, headers.Headers, error) {
	answer, err := c.Ask(ctx, msg, "Are you ok?", nil, transport.AskOptions{})
	if err != nil {
		return nil, nil, err
	}
	if s, _ := answer.Data.(string); s == "yes" {
		return "Nice!", nil, nil
	}
	return "Sad!", nil, nil
}
