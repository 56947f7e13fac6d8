package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/segflow/internal/imaging"
	"github.com/andresmejia3/segflow/internal/sink"
	"github.com/andresmejia3/segflow/internal/types"
	"github.com/andresmejia3/segflow/internal/utils"
)

// ReceiveOptions configures the frame receiver.
type ReceiveOptions struct {
	Listen    string
	OutDir    string
	MaxFrames int
	CountOnly bool
}

var receiveOpts ReceiveOptions

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Accept one live overlay stream and save its frames",
	Long: `Listens for the connection made by "segflow run --stream-addr" and reads
raw BGR frames of model-width x model-height pixels until the sender closes the
stream. Each frame is saved as a PNG, or only counted with --count.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runReceive(cmd.Context(), receiveOpts)
	},
}

func init() {
	receiveCmd.Flags().StringVarP(&receiveOpts.Listen, "listen", "a", ":9000", "Address to listen on")
	receiveCmd.Flags().StringVarP(&receiveOpts.OutDir, "out-dir", "o", "frames", "Directory for received frames")
	receiveCmd.Flags().IntVarP(&receiveOpts.MaxFrames, "frames", "f", 0, "Stop after this many frames (0 = until the stream ends)")
	receiveCmd.Flags().BoolVarP(&receiveOpts.CountOnly, "count", "c", false, "Only count frames, do not write them")
	rootCmd.AddCommand(receiveCmd)
}

func runReceive(ctx context.Context, opts ReceiveOptions) {
	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		utils.Die("Failed to listen", err, nil)
	}
	fmt.Fprintf(os.Stderr, "👂 Waiting for a stream on %s\n", ln.Addr())

	backend, err := imaging.NewBackend("software")
	if err != nil {
		utils.Die("Failed to load imaging backend", err, nil)
	}
	res := imaging.Resolution{Width: cfg.Routing.ModelWidth, Height: cfg.Routing.ModelHeight}

	var save frameHandler = func(int, []byte) error { return nil }
	if !opts.CountOnly {
		save = pngWriter(opts.OutDir, res, backend.Encoder)
	}

	n, err := receiveFrames(ctx, ln, res, opts.MaxFrames, save)
	fmt.Fprintf(os.Stderr, "🏁 Received %d frame(s)\n", n)
	if err != nil {
		utils.Die("Receive failed", err, nil)
	}
}

type frameHandler func(index int, pix []byte) error

func pngWriter(dir string, res imaging.Resolution, enc imaging.Encoder) frameHandler {
	return func(index int, pix []byte) error {
		data, err := enc.Encode(pix, res, types.FormatPNG, 0)
		if err != nil {
			return err
		}
		return sink.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%06d.png", index)), data)
	}
}

// receiveFrames accepts a single connection on ln and hands each complete
// frame to handle. It returns the number of frames handled. The listener is
// closed before returning.
func receiveFrames(ctx context.Context, ln net.Listener, res imaging.Resolution, limit int, handle frameHandler) (int, error) {
	defer ln.Close()
	stopListen := context.AfterFunc(ctx, func() { ln.Close() })
	defer stopListen()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	// Unblock a pending read on cancellation.
	stopRead := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Unix(1, 0)) })
	defer stopRead()
	logger.Info("stream connected", zap.String("remote", conn.RemoteAddr().String()))

	frame := make([]byte, res.Width*res.Height*imaging.Channels)
	count := 0
	for limit <= 0 || count < limit {
		if _, err := io.ReadFull(conn, frame); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return count, nil
			case errors.Is(err, io.ErrUnexpectedEOF):
				logger.Warn("stream ended mid-frame", zap.Int("frames", count))
				return count, nil
			case ctx.Err() != nil:
				return count, ctx.Err()
			default:
				return count, fmt.Errorf("read frame %d: %w", count+1, err)
			}
		}
		count++
		if err := handle(count, frame); err != nil {
			return count, fmt.Errorf("save frame %d: %w", count, err)
		}
	}
	return count, nil
}
