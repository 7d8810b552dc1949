package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_InvalidArguments(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), []string{"batchwatch", "explode"}, strings.NewReader(""), &stdout, &stderr)
	assert.ErrorContains(t, err, "invalid command configuration")
}

func TestRun_ServeFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var stdout, stderr bytes.Buffer
	err = Run(context.Background(),
		[]string{"batchwatch", "--progress", "progress.json", "serve", "--addr", ln.Addr().String()},
		strings.NewReader(""), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "serving progress")
}
