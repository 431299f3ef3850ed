/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
