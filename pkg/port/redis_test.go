package port

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/nobletooth/skipmap/pkg/utils"
	promclient "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/redcon"
)

// recordingConn captures replies in a compact RESP-like form, e.g. "+OK", "$value", ":1", "*2", "nil".
type recordingConn struct {
	redcon.Conn
	writes []string
	closed bool
}

func (c *recordingConn) RemoteAddr() string          { return "recording" }
func (c *recordingConn) WriteError(msg string)       { c.writes = append(c.writes, "-"+msg) }
func (c *recordingConn) WriteString(str string)      { c.writes = append(c.writes, "+"+str) }
func (c *recordingConn) WriteBulkString(bulk string) { c.writes = append(c.writes, "$"+bulk) }
func (c *recordingConn) WriteInt(num int)            { c.writes = append(c.writes, ":"+strconv.Itoa(num)) }
func (c *recordingConn) WriteArray(count int)        { c.writes = append(c.writes, "*"+strconv.Itoa(count)) }
func (c *recordingConn) WriteNull()                  { c.writes = append(c.writes, "nil") }

func (c *recordingConn) Close() error {
	c.closed = true
	return nil
}

func (c *recordingConn) serve(h *redisHandler, args ...string) {
	cmd := redcon.Command{Args: make([][]byte, len(args))}
	for i, arg := range args {
		cmd.Args[i] = []byte(arg)
	}
	serveCommand(h, c, cmd)
}

func commandCount(t *testing.T, command, status string) float64 {
	t.Helper()
	metric := &promclient.Metric{}
	require.NoError(t, commandsMetric.WithLabelValues(command, status).Write(metric))
	return metric.GetCounter().GetValue()
}

func TestRedisHandler(t *testing.T) {
	store := newTestStorage(t, nil)
	defer store.Clear()
	handler, err := newRedisHandler(store)
	require.NoError(t, err)
	conn := &recordingConn{}

	for _, step := range []struct {
		args []string
		want []string
	}{
		{args: []string{"PING"}, want: []string{"+PONG"}},
		{args: []string{"ping", "hi"}, want: []string{"$hi"}},
		{args: []string{"PING", "a", "b"}, want: []string{"-ERR wrong number of arguments for 'ping' command"}},
		{args: []string{"ECHO", "hello"}, want: []string{"$hello"}},
		{args: []string{"ECHO"}, want: []string{"-ERR wrong number of arguments for 'echo' command"}},
		{args: []string{"COMMAND", "DOCS"}, want: []string{"*0"}},
		{args: []string{"SET", "1", "10"}, want: []string{"+OK"}},
		{args: []string{"set", "2", "20"}, want: []string{"+OK"}},
		{args: []string{"SET", "1", "11"}, want: []string{"-ERR key already exists: 1"}},
		{args: []string{"SET", "a", "1"}, want: []string{"-ERR value is not an integer or out of range"}},
		{args: []string{"SET", "1", "1.5"}, want: []string{"-ERR value is not an integer or out of range"}},
		{args: []string{"SET", "1"}, want: []string{"-ERR wrong number of arguments for 'set' command"}},
		{args: []string{"SETNX", "1", "12"}, want: []string{":0"}},
		{args: []string{"SETNX", "3", "30"}, want: []string{":1"}},
		{args: []string{"GET", "1"}, want: []string{"$10"}},
		{args: []string{"GET", "3"}, want: []string{"$30"}},
		{args: []string{"GET", "9"}, want: []string{"nil"}},
		{args: []string{"GET", "x"}, want: []string{"-ERR value is not an integer or out of range"}},
		{args: []string{"EXISTS", "1", "2", "9", "1"}, want: []string{":3"}},
		{args: []string{"DBSIZE"}, want: []string{":3"}},
		{args: []string{"KEYS", "*"}, want: []string{"*3", "$1", "$2", "$3"}},
		{args: []string{"KEYS", "?"}, want: []string{"*3", "$1", "$2", "$3"}},
		{args: []string{"KEYS", "[23]"}, want: []string{"*0"}},
		{args: []string{"KEYS", "1["}, want: []string{"*0"}},
		{args: []string{"DEL", "2", "9"}, want: []string{":1"}},
		{args: []string{"DEL", "2"}, want: []string{":0"}},
		{args: []string{"DEL"}, want: []string{"-ERR wrong number of arguments for 'del' command"}},
		{args: []string{"FLUSHDB", "now"}, want: []string{"-ERR syntax error"}},
		{args: []string{"FLUSHDB", "async"}, want: []string{"+OK"}},
		{args: []string{"DBSIZE"}, want: []string{":0"}},
		{args: []string{"KEYS", "*"}, want: []string{"*0"}},
		{args: []string{"HELLO", "3"}, want: []string{"-ERR unknown command 'HELLO'"}},
	} {
		conn.writes = nil
		conn.serve(handler, step.args...)
		assert.Equalf(t, step.want, conn.writes, "command: %v", step.args)
		assert.False(t, conn.closed)
	}

	conn.writes = nil
	conn.serve(handler, "QUIT")
	assert.Equal(t, []string{"+OK"}, conn.writes)
	assert.True(t, conn.closed)
}

func TestRedisHandler_EmptyCommand(t *testing.T) {
	handler, err := newRedisHandler(newTestStorage(t, nil))
	require.NoError(t, err)
	conn := &recordingConn{}
	conn.serve(handler)
	assert.Empty(t, conn.writes)
}

func TestRedisHandler_NilStore(t *testing.T) {
	_, err := newRedisHandler(nil)
	assert.Error(t, err)
}

func TestRedisHandler_Metrics(t *testing.T) {
	store := newTestStorage(t, nil)
	defer store.Clear()
	handler, err := newRedisHandler(store)
	require.NoError(t, err)
	conn := &recordingConn{}

	setOk, setErr, unknown :=
		commandCount(t, "SET", "ok"), commandCount(t, "SET", "error"), commandCount(t, "UNKNOWN", "error")
	conn.serve(handler, "SET", "1", "1")
	conn.serve(handler, "set", "1", "2")
	conn.serve(handler, "NOPE")
	assert.Equal(t, setOk+1, commandCount(t, "SET", "ok"))
	assert.Equal(t, setErr+1, commandCount(t, "SET", "error"))
	assert.Equal(t, unknown+1, commandCount(t, "UNKNOWN", "error"))
}

// freeAddress returns a loopback address nothing listens on right now.
func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRunRedisServer(t *testing.T) {
	store := newTestStorage(t, nil)
	defer store.Clear()
	addr := freeAddress(t)
	utils.SetTestFlag(t, "address", addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverErr := make(chan error, 1)
	go func() { serverErr <- RunRedisServer(ctx, store) }()

	var client net.Conn
	require.Eventually(t, func() bool {
		var err error
		client, err = net.Dial("tcp", addr)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer func() { _ = client.Close() }()
	reader := bufio.NewReader(client)

	send := func(args ...string) {
		request := redcon.AppendArray(nil, len(args))
		for _, arg := range args {
			request = redcon.AppendBulkString(request, arg)
		}
		_, err := client.Write(request)
		require.NoError(t, err)
	}
	expect := func(lines ...string) {
		for _, line := range lines {
			require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
			got, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, line+"\r\n", got)
		}
	}

	send("PING")
	expect("+PONG")
	send("SET", "5", "50")
	expect("+OK")
	send("SET", "-1", "7")
	expect("+OK")
	send("GET", "5")
	expect("$2", "50")
	send("GET", "6")
	expect("$-1")
	send("KEYS", "*")
	expect("*2", "$2", "-1", "$1", "5")
	send("DBSIZE")
	expect(":2")
	send("QUIT")
	expect("+OK")

	cancel()
	select {
	case err := <-serverErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}

func TestRunRedisServer_InvalidArguments(t *testing.T) {
	t.Run("empty_address", func(t *testing.T) {
		utils.SetTestFlag(t, "address", "")
		assert.Error(t, RunRedisServer(context.Background(), newTestStorage(t, nil)))
	})
	t.Run("nil_store", func(t *testing.T) {
		utils.SetTestFlag(t, "address", freeAddress(t))
		assert.Error(t, RunRedisServer(context.Background(), nil))
	})
	t.Run("unusable_address", func(t *testing.T) {
		utils.SetTestFlag(t, "address", "127.0.0.1:-1")
		assert.Error(t, RunRedisServer(context.Background(), newTestStorage(t, nil)))
	})
}
