/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"testing"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/codec"
	"github.com/cifrazia/cats-go/transport"
)

type testIdentity struct {
	model string
	id    any
}

func (i *testIdentity) ModelName() string { return i.model }
func (i *testIdentity) ID() any           { return i.id }

func bytesMsg(data []byte) *transport.Message {
	return &transport.Message{Type: transport.ActionRequest, DataType: codec.Bytes, Data: data}
}

func expectViolation(t *testing.T, err error, what string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected a rules violation", what)
	}
	if !catserr.Is(err, catserr.KindHandlerRulesViolation) {
		t.Fatalf("%s: expected HandlerRulesViolation, got %v", what, err)
	}
}

func TestRulesDataType(t *testing.T) {
	r := &Rules{DataTypes: []uint8{codec.Scheme}}
	expectViolation(t, r.Check(testConn(t, nil), bytesMsg([]byte("x"))), "bytes payload against scheme-only rules")

	r2 := &Rules{DataTypes: []uint8{codec.Bytes, codec.Scheme}}
	if err := r2.Check(testConn(t, nil), bytesMsg([]byte("x"))); err != nil {
		t.Fatalf("allowed data type rejected: %v", err)
	}
}

func TestRulesDataLen(t *testing.T) {
	r := &Rules{MinDataLen: 2, MaxDataLen: 4}
	expectViolation(t, r.Check(testConn(t, nil), bytesMsg([]byte("x"))), "undersized payload")
	expectViolation(t, r.Check(testConn(t, nil), bytesMsg([]byte("xxxxx"))), "oversized payload")
	if err := r.Check(testConn(t, nil), bytesMsg([]byte("xxx"))); err != nil {
		t.Fatalf("in-range payload rejected: %v", err)
	}
}

func TestRulesAuthAndModels(t *testing.T) {
	anon := testConn(t, nil)
	user := testConn(t, &testIdentity{model: "user", id: 42})
	admin := testConn(t, &testIdentity{model: "admin", id: 1})

	r := &Rules{RequireAuth: true}
	expectViolation(t, r.Check(anon, bytesMsg(nil)), "anonymous against require_auth")
	if err := r.Check(user, bytesMsg(nil)); err != nil {
		t.Fatalf("signed-in rejected: %v", err)
	}

	rm := &Rules{RequireModels: []string{"admin"}}
	expectViolation(t, rm.Check(user, bytesMsg(nil)), "user against admin-only")
	if err := rm.Check(admin, bytesMsg(nil)); err != nil {
		t.Fatalf("admin rejected: %v", err)
	}

	rb := &Rules{BlockModels: []string{"user"}}
	expectViolation(t, rb.Check(user, bytesMsg(nil)), "blocked model")
	if err := rb.Check(anon, bytesMsg(nil)); err != nil {
		t.Fatalf("anonymous hit block_models: %v", err)
	}
}

func TestRulesFiles(t *testing.T) {
	files := codec.Files{
		"a": {Name: "a.bin", Size: 10},
		"b": {Name: "b.bin", Size: 30},
	}
	msg := &transport.Message{Type: transport.ActionRequest, DataType: codec.FilesID, Data: files}

	if err := (&Rules{MinFileSize: 5, MaxFileSize: 50}).Check(testConn(t, nil), msg); err != nil {
		t.Fatalf("in-range files rejected: %v", err)
	}
	expectViolation(t, (&Rules{MaxFileSize: 20}).Check(testConn(t, nil), msg), "per-file cap")
	expectViolation(t, (&Rules{MaxFileTotalSize: 30}).Check(testConn(t, nil), msg), "aggregate cap")
	expectViolation(t, (&Rules{MinFileAmount: 3}).Check(testConn(t, nil), msg), "file count floor")
	expectViolation(t, (&Rules{MaxFileAmount: 1}).Check(testConn(t, nil), msg), "file count cap")
}
