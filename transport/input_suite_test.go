/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestInput(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
