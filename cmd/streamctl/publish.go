package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Send a file to the room as binary chunks",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		interval, _ := cmd.Flags().GetDuration("interval")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		if chunkSize <= 0 {
			return fmt.Errorf("--chunk-size must be positive")
		}

		target, err := endpoint(viper.GetString(serverKey), "live", viper.GetString(roomKey))
		if err != nil {
			return err
		}
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()

		conn, err := dial(target)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		sent, err := streamChunks(ctx, conn, f, chunkSize, interval)
		log.Info().Str("room", viper.GetString(roomKey)).Int64("bytes", sent).Msg("publish finished")
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return err
	},
}

func init() {
	publishCmd.Flags().String("file", "", "file to send")
	publishCmd.Flags().Int("chunk-size", 64<<10, "bytes per message")
	publishCmd.Flags().Duration("interval", 100*time.Millisecond, "pause between messages")
}

type messageWriter interface {
	WriteMessage(mt int, data []byte) error
}

// streamChunks sends r as binary messages of at most chunkSize bytes.
func streamChunks(ctx context.Context, w messageWriter, r io.Reader, chunkSize int, interval time.Duration) (int64, error) {
	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := w.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return sent, werr
			}
			sent += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		if interval > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
}
