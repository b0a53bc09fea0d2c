package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsAddr(t *testing.T) {
	assert.Equal(t, "localhost:6379", Options{Host: "localhost", Port: "6379"}.Addr())
}

func TestNewClient_UnreachableReturnsClientAndError(t *testing.T) {
	client, err := NewClient(Options{Host: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
	if assert.NotNil(t, client) {
		assert.NoError(t, client.Close())
	}
}
