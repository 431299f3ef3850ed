/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/transport"
)

var _ = Describe("InputAction ask/reply", func() {
	var client, server *transport.Conn

	cleanup := func() {
		if client != nil {
			client.Close()
		}
		if server != nil {
			server.Close()
		}
	}

	AfterEach(cleanup)

	It("lets a handler ask the peer mid-request and receive the reply", func() {
		askAnswered := make(chan struct{})

		dispatch := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
			if msg.Type == transport.ActionInput {
				// This is the peer answering our ask via Reply -- but this
				// asking side never sees this branch since the reply is
				// matched to its pendingInput entry by message_id.
				return
			}
			go func() {
				defer close(askAnswered)
				reply, err := c.Ask(context.Background(), msg, "what is your name?", nil, transport.AskOptions{Timeout: time.Second})
				Expect(err).NotTo(HaveOccurred())
				Expect(reply.Data).To(Equal("cats"))
				Expect(c.Respond(context.Background(), msg, "ok", headers.Headers{})).To(Succeed())
			}()
		})

		clientDispatch := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
			if msg.Type == transport.ActionInput {
				Expect(c.Reply(context.Background(), msg.MessageID, "cats", nil)).To(Succeed())
			}
		})

		c, s := newLoopback(clientDispatch, dispatch)
		client, server = c, s
		go server.RecvLoop(context.Background())
		go client.RecvLoop(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Request(ctx, 1, "hello", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Data).To(Equal("ok"))

		Eventually(askAnswered, time.Second).Should(BeClosed())
	})

	It("fails the ask with Cancelled when the peer cancels it", func() {
		dispatch := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
			go func() {
				_, err := c.Ask(context.Background(), msg, "ping", nil, transport.AskOptions{Timeout: time.Second})
				Expect(err).To(HaveOccurred())
				Expect(catserr.Is(err, catserr.KindInputCancelled)).To(BeTrue())
			}()
		})
		clientDispatch := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
			if msg.Type == transport.ActionInput {
				Expect(c.CancelInput(context.Background(), msg.MessageID)).To(Succeed())
			}
		})

		c, s := newLoopback(clientDispatch, dispatch)
		client, server = c, s
		go server.RecvLoop(context.Background())
		go client.RecvLoop(context.Background())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = client.Request(ctx, 1, "hello", nil)
		time.Sleep(200 * time.Millisecond)
	})
})
