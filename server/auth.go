/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"context"
	"fmt"
	"time"
)

// Identity is what an authentication back-end returns from SignIn: the
// minimal surface the core needs -- a model name for the Rules guards and
// channel auto-attach, and an id for the per-entity channel.
type Identity interface {
	ModelName() string
	ID() any
}

// Auth is the single authentication contract the core reaches external
// back-ends through: sign_in(credentials) -> (identity, stored_credentials,
// ttl). A zero ttl means the sign-in never expires.
type Auth interface {
	SignIn(ctx context.Context, credentials any) (identity Identity, stored any, ttl time.Duration, err error)
}

// AuthFunc adapts a plain function to Auth.
type AuthFunc func(ctx context.Context, credentials any) (Identity, any, time.Duration, error)

func (f AuthFunc) SignIn(ctx context.Context, credentials any) (Identity, any, time.Duration, error) {
	return f(ctx, credentials)
}

// ModelChannel and EntityChannel name the channels a signed-in connection
// is auto-attached to: model_{model_name} and model_{model_name}:{id}.
func ModelChannel(model string) string { return "model_" + model }

func EntityChannel(model string, id any) string {
	return fmt.Sprintf("model_%s:%v", model, id)
}
