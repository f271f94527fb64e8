// chatclient 终端聊天客户端
//
//	chatclient -u alice --room lobby
//	chatclient -u bob --server http://127.0.0.1:8080 --auth
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/request"
	"github.com/tokmz/forum/pkg/room"
	"github.com/tokmz/forum/pkg/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatclient: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("chatclient", pflag.ContinueOnError)
	server := fs.String("server", "http://127.0.0.1:8080", "服务端地址")
	username := fs.StringP("username", "u", "", "显示名（必填）")
	initial := fs.StringP("room", "r", "lobby", "启动后加入的房间，空则不加入")
	withAuth := fs.Bool("auth", false, "加入房间时携带 /auth/token 签发的令牌")
	joinTimeout := fs.Duration("join-timeout", 10*time.Second, "加入房间等待确认的时长，0 不限")
	logLevel := fs.String("log-level", "warn", "日志级别")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	log, err := logger.NewWithOptions(
		logger.WithLevel(level),
		logger.WithFormat(logger.ConsoleFormat),
		logger.WithConsoleOutput(),
		logger.WithName("chatclient"),
	)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	wsURL, err := socketURL(*server, *username)
	if err != nil {
		return err
	}
	sock := ws.NewSocket(wsURL, ws.WithSocketLogger(log))
	defer func() { _ = sock.Close() }()

	ctrlOpts := []room.Option{room.WithLogger(log), room.WithJoinTimeout(*joinTimeout)}
	if *withAuth {
		client := request.New(
			request.WithBaseURL(strings.TrimRight(*server, "/")),
			request.WithTimeout(5*time.Second),
			request.WithRetry(request.DefaultRetryConfig()),
			request.WithLogger(log),
			request.WithUserAgent("forum-chatclient"),
		)
		ctrlOpts = append(ctrlOpts, room.WithTokenSource(request.NewTokenManager(client, *username, request.WithTokenLogger(log))))
	}
	ctrl := room.NewController(sock, ctrlOpts...)
	defer ctrl.Close()

	clientID := room.NewClientID()
	term := newTerminal(os.Stdout, func(roomName string, r room.Renderer) *room.Panel {
		return room.NewPanel(ctrl, roomName, clientID, room.WithRenderer(r), room.WithDisplayName(*username))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	term.printf("connected as %s (%s), /help for commands\n", *username, clientID)
	if *initial != "" {
		term.join(*initial)
	}
	return term.run(ctx, os.Stdin)
}

// socketURL http(s)://host → ws(s)://host/ws?username=
func socketURL(server, username string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"username": {username}}.Encode()
	return u.String(), nil
}
