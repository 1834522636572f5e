package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"openpalace/internal/engine"
	"openpalace/internal/logging"
	"openpalace/internal/protocol"
)

var watchMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the stdio read-dispatch-write loop",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&watchMode, "watch", false, "enable live workspace-sync watching in addition to request handling")
}

// runServe decodes one JSON request object per line of stdin, dispatches
// it against a freshly constructed engine, and writes one JSON response
// object per line to stdout. Grounded on the teacher's
// internal/mcp.StdioTransport line-oriented framing (there a client
// reading server responses; here the mirror-image server reading client
// requests).
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Get(logging.CategoryBoot)
	log.Info("starting engine at %s", dataDir)

	e, err := engine.New(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("engine.New: %w", err)
	}
	defer e.Close()

	if watchMode {
		if err := e.StartWatchMode(ctx); err != nil {
			log.Warn("workspace watch mode failed to start: %v", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := protocol.DecodeRequest(line)
		if err != nil {
			writeResponse(writer, protocol.Response{Text: err.Error(), IsError: true})
			continue
		}

		resp := protocol.Dispatch(ctx, e, req)
		writeResponse(writer, resp)
	}
	return scanner.Err()
}

func writeResponse(w *bufio.Writer, resp protocol.Response) {
	line, err := protocol.EncodeResponse(resp)
	if err != nil {
		logging.Get(logging.CategoryProtocol).Error("failed to encode response: %v", err)
		return
	}
	w.Write(line)
	w.Flush()
}
