// Command catsc is a demo CATS client: sends one echo request, prints the
// reply, and answers server questions from stdin.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/client"
	"github.com/cifrazia/cats-go/handshake"
	"github.com/cifrazia/cats-go/internal/nlog"
	"github.com/cifrazia/cats-go/transport"
)

func main() {
	var (
		host         string
		port         int
		useHandshake bool
		api          int
		inputTimeout time.Duration
		idleTimeout  time.Duration
		useTLS       bool
		debug        bool
	)
	flag.StringVar(&host, "host", "127.0.0.1", "server address")
	flag.StringVar(&host, "H", "127.0.0.1", "server address (shorthand)")
	flag.IntVar(&port, "port", 9090, "server port")
	flag.IntVar(&port, "P", 9090, "server port (shorthand)")
	flag.BoolVar(&useHandshake, "handshake", false, "perform the SHA-256 time handshake (secret from HANDSHAKE_SECRET)")
	flag.IntVar(&api, "api", 1, "api version to announce")
	flag.IntVar(&api, "A", 1, "api version to announce (shorthand)")
	flag.DurationVar(&inputTimeout, "input-timeout", transport.DefaultInputTimeout, "per-input reply timeout")
	flag.DurationVar(&idleTimeout, "idle-timeout", transport.DefaultIdleTimeout, "idle connection timeout (0 disables)")
	flag.BoolVar(&useTLS, "tls", false, "connect over TLS")
	flag.BoolVar(&useTLS, "T", false, "connect over TLS (shorthand)")
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
			fmt.Fprintln(os.Stderr, "catsc: --handshake requires HANDSHAKE_SECRET")
			os.Exit(2)
		}
		opts = append(opts, transport.WithHandshake(handshake.New([]byte(secret))))
	}

	connectOpts := client.Options{
		Config:     transport.New(opts...),
		APIVersion: api,
		OnInput:    answerFromStdin,
	}
	if useTLS {
		connectOpts.TLS = &tls.Config{ServerName: host}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// SERVER_CORE names the default server address; explicit --host/--port
	// flags win.
	addr := fmt.Sprintf("%s:%d", host, port)
	if env := os.Getenv("SERVER_CORE"); env != "" {
		explicit := false
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "host", "H", "port", "P":
				explicit = true
			}
		})
		if !explicit {
			addr = env
		}
	}

	cl, err := client.Connect(ctx, addr, connectOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catsc: %v\n", err)
		os.Exit(exitCode(err))
	}
	defer cl.Close()

	payload := strings.Join(flag.Args(), " ")
	if payload == "" {
		payload = "hello"
	}
	resp, err := cl.Send(ctx, 0x0001, []byte(payload), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "catsc: %v\n", err)
		os.Exit(exitCode(err))
	}
	fmt.Printf("status=%d payload=%v\n", resp.Status(), resp.Data)
}

func exitCode(err error) int {
	if catserr.Is(err, catserr.KindStreamClosed) {
		return 1
	}
	return 2
}

func answerFromStdin(ctx context.Context, in *client.Input) {
	fmt.Printf("server asks: %v\n> ", in.Msg.Data)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		_ = in.Cancel(ctx)
		return
	}
	_ = in.Reply(ctx, strings.TrimSpace(line), nil)
}
