package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	serverKey = "server"
	roomKey   = "room"
)

var rootCmd = &cobra.Command{
	Use:          "streamctl",
	Short:        "Publish to or watch a broker room over the raw stream endpoints",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", "ws://localhost:8080", "broker base URL (ws:// or wss://)")
	rootCmd.PersistentFlags().String("room", "", "room id")
	_ = viper.BindPFlag(serverKey, rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag(roomKey, rootCmd.PersistentFlags().Lookup("room"))
	viper.SetEnvPrefix("STREAMCTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(publishCmd, watchCmd)
}

// endpoint builds the WebSocket URL for one of the raw stream routes.
func endpoint(server, route, room string) (string, error) {
	if room == "" {
		return "", fmt.Errorf("--room is required")
	}
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("bad --server: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("bad --server scheme %q", u.Scheme)
	}
	u.Path += "/video-streaming/" + route + "/" + room
	return u.String(), nil
}

func dial(target string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s", target, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}
