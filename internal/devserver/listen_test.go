package devserver

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hotpatch/internal/hotfn"
)

func TestListen_DropsMalformedAndContinues(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"hot_patch_start"}`,
		`garbage`,
		``,
		`{"type":"hot_reload","jump_table":{"lib":"demo/v2","map":{"a":"b"}}}`,
		`{"type":"nope"}`,
	}, "\n")

	var got []Type
	var dropped int
	err := Listen(context.Background(), strings.NewReader(input), func(m Message) {
		got = append(got, m.Type)
	}, WithDropped(func(error) { dropped++ }))

	require.NoError(t, err)
	assert.Equal(t, []Type{TypeHotPatchStart, TypeHotReload}, got)
	assert.Equal(t, 2, dropped)
}

func TestListen_SkipsOversizedFrame(t *testing.T) {
	big := `{"type":"hot_reload","pad":"` + strings.Repeat("x", maxFrame+10) + `"}`
	input := big + "\n" + `{"type":"hot_reload","jump_table":{"lib":"demo/v2","map":{"a":"b"}}}` + "\n"

	var handled, dropped int
	var dropErr error
	err := Listen(context.Background(), strings.NewReader(input), func(m Message) {
		handled++
		assert.Equal(t, TypeHotReload, m.Type)
	}, WithDropped(func(err error) {
		dropped++
		dropErr = err
	}))

	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, dropped)
	assert.ErrorIs(t, dropErr, ErrFrameTooLarge)
	assert.ErrorIs(t, dropErr, ErrMalformed)
}

func TestReadFrame(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader("short\n"+strings.Repeat("y", 40)+"\nok\ntail"), 16)

	line, err := readFrame(br, 10)
	require.NoError(t, err)
	assert.Equal(t, "short", string(line))

	_, err = readFrame(br, 10)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	line, err = readFrame(br, 10)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(line))

	line, err = readFrame(br, 10)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(line))

	_, err = readFrame(br, 10)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncode_RoundTripsThroughListen(t *testing.T) {
	var buf bytes.Buffer
	jt := hotfn.JumpTable{Lib: "demo/v2", Map: map[hotfn.Symbol]hotfn.Symbol{"demo.Score": "demo.ScoreV2"}}
	require.NoError(t, Encode(&buf, HotReload(jt)))
	require.NoError(t, Encode(&buf, Message{Type: TypeShutdown}))

	var got []Message
	require.NoError(t, Listen(context.Background(), &buf, func(m Message) { got = append(got, m) }))
	require.Len(t, got, 2)
	assert.Equal(t, jt, *got[0].JumpTable)
	assert.Equal(t, TypeShutdown, got[1].Type)
}

func TestListen_CancelClosesReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, pr, func(Message) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"shutdown"}`+"\n"), 0o644))

	rc, err := Open(context.Background(), "file:"+path)
	require.NoError(t, err)
	defer rc.Close()

	var got []Type
	require.NoError(t, Listen(context.Background(), rc, func(m Message) { got = append(got, m.Type) }))
	assert.Equal(t, []Type{TypeShutdown}, got)
}

func TestOpen_Unknown(t *testing.T) {
	for _, src := range []string{"", "none", "ftp:host", "file:"} {
		_, err := Open(context.Background(), src)
		assert.ErrorIs(t, err, ErrUnknownSource, src)
	}
}

func TestOpen_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = Encode(conn, Message{Type: TypeFullReloadStart})
	}()

	rc, err := Open(context.Background(), "tcp:"+ln.Addr().String())
	require.NoError(t, err)
	defer rc.Close()

	var got []Type
	require.NoError(t, Listen(context.Background(), rc, func(m Message) { got = append(got, m.Type) }))
	assert.Equal(t, []Type{TypeFullReloadStart}, got)
}
