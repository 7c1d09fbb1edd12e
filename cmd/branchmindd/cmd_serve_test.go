package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"branchmind/internal/config"
	"branchmind/internal/dispatch"
	"branchmind/internal/store"
)

func TestServeLoopEchoesEnvelopePerLine(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	d := dispatch.New(s, config.DefaultConfig())

	in := strings.NewReader(`{"tool":"status","workspace":"ws1"}` + "\n" + `{"tool":"tasks.plan","workspace":"ws1","args":{"title":"Ship it"}}` + "\n")
	var out bytes.Buffer

	require.NoError(t, serveLoop(context.Background(), d, in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var env1 dispatch.Envelope
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &env1))
	require.True(t, env1.Success)

	var env2 dispatch.Envelope
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &env2))
	require.True(t, env2.Success)
}

func TestServeLoopMalformedLineReportsInvalidInput(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	d := dispatch.New(s, config.DefaultConfig())
	in := strings.NewReader("{not json}\n")
	var out bytes.Buffer

	require.NoError(t, serveLoop(context.Background(), d, in, &out))

	var env dispatch.Envelope
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env))
	require.False(t, env.Success)
	require.Equal(t, dispatch.ErrInvalidInput, env.Error.Code)
}
