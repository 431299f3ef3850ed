/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/client"
	"github.com/cifrazia/cats-go/codec"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/server"
	"github.com/cifrazia/cats-go/transport"
)

const (
	echoID    uint16 = 0x0001
	formID    uint16 = 0x0002
	versionID uint16 = 0x0003
	askID     uint16 = 0x0004
	newsID    uint16 = 0x0010
)

// userForm exercises the Form validation contract the scheme codec and
// handlers call through.
type userForm struct {
	ID   int
	Name string
}

func (f *userForm) Load(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return catserr.Newf(catserr.KindMalformedData, "expected a mapping, got %T", data)
	}
	id, ok := m["id"].(float64)
	if !ok || id < 0 || id > 10 {
		return catserr.New(catserr.KindMalformedData, "id must be in [0, 10]")
	}
	name, ok := m["name"].(string)
	if !ok || len(name) < 3 || len(name) > 16 {
		return catserr.New(catserr.KindMalformedData, "name must be 3..16 characters")
	}
	f.ID, f.Name = int(id), name
	return nil
}

func (f *userForm) Dump() (any, error) {
	return map[string]any{"id": f.ID, "name": f.Name}, nil
}

func randHex(n int) string {
	buf := make([]byte, n/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func buildApi() *server.Api {
	api := server.NewApi()

	must := func(item *server.HandlerItem) {
		Expect(api.Register(item)).To(Succeed())
	}
	must(&server.HandlerItem{ID: echoID, Name: "echo", Fn: func(_ context.Context, _ *transport.Conn, msg *transport.Message) (any, headers.Headers, error) {
		return msg.Data, nil, nil
	}})
	must(&server.HandlerItem{
		ID: formID, Name: "sign_up",
		Rules: server.Rules{DataTypes: []uint8{codec.Scheme}},
		Fn: func(_ context.Context, _ *transport.Conn, msg *transport.Message) (any, headers.Headers, error) {
			var form userForm
			if err := form.Load(msg.Data); err != nil {
				return nil, nil, err
			}
			return map[string]any{"token": randHex(64), "code": randHex(6)}, nil, nil
		},
	})
	for i, rng := range []struct{ v, end int }{{1, 2}, {3, 4}, {6, 0}} {
		version := i + 1
		must(&server.HandlerItem{
			ID: versionID, Name: fmt.Sprintf("version.v%d", version), Version: rng.v, EndVersion: rng.end,
			Fn: func(context.Context, *transport.Conn, *transport.Message) (any, headers.Headers, error) {
				return map[string]any{"version": version}, nil, nil
			},
		})
	}
	must(&server.HandlerItem{ID: askID, Name: "ask", Fn: func(ctx context.Context, c *transport.Conn, msg *transport.Message) (any, headers.Headers, error) {
		answer, err := c.Ask(ctx, msg, "Are you ok?", nil, transport.AskOptions{Timeout: 2 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		if s, _ := answer.Data.(string); s == "yes" {
			return "Nice!", nil, nil
		}
		return "Sad!", nil, nil
	}})
	return api
}

type fixture struct {
	rt  *server.Runtime
	srv *server.Server
	ln  net.Listener
}

func startServer(auth server.Auth) *fixture {
	rt := server.NewRuntime()
	srv := server.New(rt, buildApi(), server.Options{
		Config: transport.New(transport.WithIdleTimeout(0)),
		Auth:   auth,
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	go srv.Serve(context.Background(), ln)
	return &fixture{rt: rt, srv: srv, ln: ln}
}

func (f *fixture) stop() {
	f.srv.Shutdown()
	f.rt.Stop()
}

func (f *fixture) connect(apiVersion int, onInput client.InputHandler) *client.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cl, err := client.Connect(ctx, f.ln.Addr().String(), client.Options{
		Config:       transport.New(transport.WithIdleTimeout(0)),
		APIVersion:   apiVersion,
		OnInput:      onInput,
		PingInterval: -1,
	})
	Expect(err).NotTo(HaveOccurred())
	return cl
}

var _ = Describe("Server end to end", func() {
	var f *fixture

	AfterEach(func() {
		if f != nil {
			f.stop()
			f = nil
		}
	})

	It("echoes raw bytes with status 200", func() {
		f = startServer(nil)
		cl := f.connect(1, nil)
		defer cl.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := cl.Send(ctx, echoID, []byte{0x01, 0x02, 0x03}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status()).To(Equal(200))
		Expect(resp.Data).To(Equal([]byte{0x01, 0x02, 0x03}))
	})

	It("honors the Skip header on the response payload", func() {
		f = startServer(nil)
		cl := f.connect(1, nil)
		defer cl.Close()

		h := headers.Headers{}
		h.SetSkip(5)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := cl.Send(ctx, echoID, []byte("1234567890"), h)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Data).To(Equal([]byte("67890")))
	})

	It("validates form payloads and reports failures as status 400", func() {
		f = startServer(nil)
		cl := f.connect(1, nil)
		defer cl.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := cl.Send(ctx, formID, map[string]any{"id": 5, "name": "adam"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status()).To(Equal(200))
		body, ok := resp.Data.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(body["token"]).To(HaveLen(64))
		Expect(body["code"]).To(HaveLen(6))

		resp, err = cl.Send(ctx, formID, "not a dict", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status()).To(Equal(400))
		body, ok = resp.Data.(map[string]any)
		Expect(ok).To(BeTrue())
		Expect(body).To(HaveKey("error"))
		Expect(body).To(HaveKey("message"))
	})

	It("resolves handlers by api version and closes on unresolvable ones", func() {
		f = startServer(nil)

		byVersion := func(apiVersion int) (*transport.Message, error) {
			cl := f.connect(apiVersion, nil)
			defer cl.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return cl.Send(ctx, versionID, map[string]any{}, nil)
		}

		resp, err := byVersion(2)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Data).To(HaveKeyWithValue("version", float64(1)))

		resp, err = byVersion(7)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Data).To(HaveKeyWithValue("version", float64(3)))

		_, err = byVersion(0)
		Expect(err).To(HaveOccurred())
		_, err = byVersion(5)
		Expect(err).To(HaveOccurred())
	})

	It("runs the interactive input flow", func() {
		f = startServer(nil)

		askWith := func(onInput client.InputHandler) (*transport.Message, error) {
			cl := f.connect(1, onInput)
			defer cl.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return cl.Send(ctx, askID, map[string]any{}, nil)
		}

		resp, err := askWith(func(ctx context.Context, in *client.Input) {
			Expect(in.Msg.Data).To(Equal("Are you ok?"))
			Expect(in.Reply(ctx, "yes", nil)).To(Succeed())
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Data).To(Equal("Nice!"))

		resp, err = askWith(func(ctx context.Context, in *client.Input) {
			Expect(in.Reply(ctx, "no", nil)).To(Succeed())
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Data).To(Equal("Sad!"))

		resp, err = askWith(func(ctx context.Context, in *client.Input) {
			Expect(in.Cancel(ctx)).To(Succeed())
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Status()).To(Equal(500))
	})

	It("delivers channel broadcasts to signed-in members only", func() {
		authed := server.AuthFunc(func(_ context.Context, credentials any) (server.Identity, any, time.Duration, error) {
			return &broadcastIdentity{model: "user", id: 42}, credentials, 0, nil
		})
		f = startServer(authed)

		received := make(chan *transport.Message, 4)
		cl := f.connect(1, nil)
		defer cl.Close()
		cl.Subscribe(newsID, func(_ context.Context, msg *transport.Message) {
			received <- msg
		})

		// Sign the server-side connection in once it exists.
		var conn *transport.Conn
		Eventually(func() int {
			return len(f.srv.Conns())
		}, time.Second).Should(Equal(1))
		conn = f.srv.Conns()[0]
		_, err := f.srv.SignIn(context.Background(), conn, map[string]any{"login": "adam"})
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		Expect(f.rt.Broadcast(ctx, "model_user", newsID, map[string]any{"n": 1}, nil)).To(Succeed())
		Expect(f.rt.Broadcast(ctx, "model_user:42", newsID, map[string]any{"n": 2}, nil)).To(Succeed())

		Eventually(received, 2*time.Second).Should(HaveLen(2))

		f.srv.SignOut(conn)
		Expect(f.rt.Broadcast(ctx, "model_user", newsID, map[string]any{"n": 3}, nil)).To(Succeed())
		Consistently(received, 300*time.Millisecond).Should(HaveLen(2))
	})
})

type broadcastIdentity struct {
	model string
	id    any
}

func (i *broadcastIdentity) ModelName() string { return i.model }
func (i *broadcastIdentity) ID() any           { return i.id }
