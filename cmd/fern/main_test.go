package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/merge"
)

func TestLockKeyNamespace(t *testing.T) {
	key := lockPrefix + merge.LockKey("ws-1", "user-1")

	assert.Equal(t, "fern:merge:ws-1:user-1", key)
}
