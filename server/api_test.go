/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"testing"

	"github.com/cifrazia/cats-go/catserr"
)

func registryWithRanges(t *testing.T) *Api {
	t.Helper()
	api := NewApi()
	items := []*HandlerItem{
		{ID: 7, Name: "v1", Version: 1, EndVersion: 2},
		{ID: 7, Name: "v2", Version: 3, EndVersion: 4},
		{ID: 7, Name: "v3", Version: 6}, // open-ended [6, ∞)
	}
	for _, item := range items {
		if err := api.Register(item); err != nil {
			t.Fatalf("register %s: %v", item.Name, err)
		}
	}
	return api
}

func TestResolveVersionRanges(t *testing.T) {
	api := registryWithRanges(t)

	tests := []struct {
		apiVersion int
		want       string // "" = no match
	}{
		{0, ""},
		{1, "v1"},
		{2, "v1"},
		{3, "v2"},
		{4, "v2"},
		{5, ""},
		{6, "v3"},
		{7, "v3"},
		{100, "v3"},
	}
	for _, tt := range tests {
		item, err := api.Resolve(7, tt.apiVersion)
		if tt.want == "" {
			if err == nil {
				t.Errorf("api=%d: expected no match, got %s", tt.apiVersion, item.Name)
			} else if !catserr.Is(err, catserr.KindProtocolViolation) {
				t.Errorf("api=%d: expected ProtocolViolation, got %v", tt.apiVersion, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("api=%d: %v", tt.apiVersion, err)
			continue
		}
		if item.Name != tt.want {
			t.Errorf("api=%d: resolved %s, want %s", tt.apiVersion, item.Name, tt.want)
		}
	}
}

func TestRegisterRejectsOverlap(t *testing.T) {
	api := registryWithRanges(t)
	overlapping := []*HandlerItem{
		{ID: 7, Version: 2, EndVersion: 3},
		{ID: 7, Version: 4, EndVersion: 10}, // crosses into [6, ∞)
		{ID: 7, Version: 8, EndVersion: 9},  // inside [6, ∞)
	}
	for _, item := range overlapping {
		if err := api.Register(item); err == nil {
			t.Errorf("range [%d,%d] should have been rejected", item.Version, item.EndVersion)
		}
	}
	// A different id is unaffected.
	if err := api.Register(&HandlerItem{ID: 8, Version: 2, EndVersion: 3}); err != nil {
		t.Errorf("non-conflicting id rejected: %v", err)
	}
}

func TestRegisterRejectsWildcardMix(t *testing.T) {
	api := NewApi()
	if err := api.Register(&HandlerItem{ID: 1, Name: "wild"}); err != nil {
		t.Fatalf("wildcard: %v", err)
	}
	if err := api.Register(&HandlerItem{ID: 1, Version: 1, EndVersion: 2}); err == nil {
		t.Error("versioned entry next to a wildcard should be rejected")
	}
	if err := api.Register(&HandlerItem{ID: 1, Name: "wild2"}); err == nil {
		t.Error("second wildcard should be rejected")
	}
}
