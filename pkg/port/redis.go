package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/nobletooth/skipmap/pkg/skipmap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var address = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")

var errNotInteger = errors.New("value is not an integer or out of range")

var commandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "redis_commands_total",
	Help: "The total number of handled Redis commands",
}, []string{
	"command", // Upper case command name; unknown commands are grouped under "UNKNOWN".
	"status",  // Either "ok" or "error".
})

// Backend is the storage surface served over the Redis protocol; SkipMapStorage implements it.
type Backend interface {
	Get(key int) (int, error)
	Contains(key int) bool
	Add(key, value int) error
	Remove(key int) bool
	Count() int
	Keys(pattern string) ([]int, error)
	Clear()
}

var _ Backend = (*SkipMapStorage)(nil)

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection after writing if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       *string  // Writes a bulk string if set.
	writeArray      []string // Writes an array of bulk strings if `isArray` is set.
	isArray         bool
	writeString     string // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisArray(items []string) redisOutput {
	return redisOutput{writeArray: items, isArray: true}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgumentCount(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// parseInts converts every argument to an int or fails on the first one that is not.
func parseInts(args []string) ([]int, error) {
	ints := make([]int, len(args))
	for i, arg := range args {
		parsed, err := strconv.Atoi(arg)
		if err != nil {
			return nil, errNotInteger
		}
		ints[i] = parsed
	}
	return ints, nil
}

type redisHandler struct {
	store Backend
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(store Backend) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil storage")
	}
	return &redisHandler{store: store}, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	command := strings.ToUpper(cmd.command)
	switch command {
	case "PING":
		switch len(cmd.args) {
		case 0:
			return writeRedisString("PONG")
		case 1:
			return writeRedisBulk(cmd.args[0])
		default:
			return wrongArgumentCount(command)
		}
	case "ECHO":
		if len(cmd.args) != 1 {
			return wrongArgumentCount(command)
		}
		return writeRedisBulk(cmd.args[0])
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "COMMAND": // Clients probe this on connect; no command docs are served.
		return writeRedisArray(nil)
	case "SET", "SETNX":
		if len(cmd.args) != 2 {
			return wrongArgumentCount(command)
		}
		pair, err := parseInts(cmd.args)
		if err != nil {
			return writeRedisError(err)
		}
		err = rh.store.Add(pair[0], pair[1])
		if command == "SETNX" {
			if errors.Is(err, skipmap.ErrDuplicateKey) {
				return writeRedisInt(0)
			} else if err != nil {
				return writeRedisError(err)
			}
			return writeRedisInt(1)
		}
		if err != nil { // Keys are never overwritten.
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArgumentCount(command)
		}
		keys, err := parseInts(cmd.args)
		if err != nil {
			return writeRedisError(err)
		}
		if value, err := rh.store.Get(keys[0]); errors.Is(err, ErrKeyNotFound) {
			return writeRedisNil()
		} else if err != nil {
			return writeRedisError(err)
		} else {
			return writeRedisBulk(strconv.Itoa(value))
		}
	case "DEL", "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArgumentCount(command)
		}
		keys, err := parseInts(cmd.args)
		if err != nil {
			return writeRedisError(err)
		}
		count := 0
		for _, key := range keys {
			if command == "DEL" && rh.store.Remove(key) || command == "EXISTS" && rh.store.Contains(key) {
				count++
			}
		}
		return writeRedisInt(count)
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArgumentCount(command)
		}
		return writeRedisInt(rh.store.Count())
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArgumentCount(command)
		}
		keys, err := rh.store.Keys(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		items := make([]string, len(keys))
		for i, key := range keys {
			items[i] = strconv.Itoa(key)
		}
		return writeRedisArray(items)
	case "FLUSHDB":
		if len(cmd.args) > 1 {
			return wrongArgumentCount(command)
		}
		if len(cmd.args) == 1 && !slices.Contains([]string{"SYNC", "ASYNC"}, strings.ToUpper(cmd.args[0])) {
			return writeRedisError(errors.New("syntax error"))
		}
		rh.store.Clear()
		return writeRedisString(RedisOk)
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// commandLabel bounds the metric's label cardinality to the known commands.
func commandLabel(command string) string {
	switch command = strings.ToUpper(command); command {
	case "PING", "ECHO", "QUIT", "COMMAND", "SET", "SETNX", "GET", "DEL", "EXISTS", "DBSIZE", "KEYS", "FLUSHDB":
		return command
	default:
		return "UNKNOWN"
	}
}

// writeOutput serializes `output` on `conn` following the RESP encoding of each reply type.
func writeOutput(conn redcon.Conn, output redisOutput) {
	switch {
	case output.err != nil:
		conn.WriteError(*output.err)
	case output.writeNil:
		conn.WriteNull()
	case output.writeInt != nil:
		conn.WriteInt(*output.writeInt)
	case output.writeBulk != nil:
		conn.WriteBulkString(*output.writeBulk)
	case output.isArray:
		conn.WriteArray(len(output.writeArray))
		for _, item := range output.writeArray {
			conn.WriteBulkString(item)
		}
	default:
		conn.WriteString(output.writeString)
	}
	if output.closeConnection {
		if err := conn.Close(); err != nil {
			slog.Error("Failed to close connection.", "remote", conn.RemoteAddr(), "error", err)
		}
	}
}

// serveCommand runs a single redcon command against `handler` and writes its reply.
func serveCommand(handler *redisHandler, conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		return
	}
	// Convert redcon.Command to redisCommand.
	command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
	for i := 1; i < len(cmd.Args); i++ {
		command.args[i-1] = string(cmd.Args[i])
	}
	output := handler.handle(command)
	status := "ok"
	if output.err != nil {
		status = "error"
	}
	commandsMetric.WithLabelValues(commandLabel(command.command), status).Inc()
	writeOutput(conn, output)
}

// RunRedisServer starts a Redis protocol server on --address serving `store` until `ctx` is cancelled.
func RunRedisServer(ctx context.Context, store Backend) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(store)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			serveCommand(redisHandler, conn, cmd)
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted connection.", "remote", conn.RemoteAddr())
			return true // Accept all connections.
		},
		/*closed*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	listening := make(chan error, 1)
	serverErrSignal := make(chan error, 1)
	go func() {
		serverErrSignal <- redisServer.ListenServeAndSignal(listening)
		close(serverErrSignal)
	}()
	if err := <-listening; err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *address, err)
	}
	slog.Info("Redis server is listening.", "address", redisServer.Addr().String())

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close redis server: %w", err)
		}
		<-serverErrSignal // Serving returns once the listener is closed.
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
