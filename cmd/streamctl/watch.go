package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Save the room's raw stream to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return fmt.Errorf("--out is required")
		}
		target, err := endpoint(viper.GetString(serverKey), "watch", viper.GetString(roomKey))
		if err != nil {
			return err
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()

		conn, err := dial(target)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()

		n, err := saveStream(conn, f)
		log.Info().Str("room", viper.GetString(roomKey)).Int64("bytes", n).Str("out", out).Msg("watch finished")
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().String("out", "", "file to write received chunks to")
}

type messageReader interface {
	ReadMessage() (int, []byte, error)
}

// saveStream appends every binary message to w until the server closes.
func saveStream(r messageReader, w io.Writer) (int64, error) {
	var total int64
	for {
		mt, data, err := r.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return total, nil
			}
			return total, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}
