package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/wsclient/internal/config"
	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/danmuck/wsclient/internal/protocol/packet"
	"github.com/danmuck/wsclient/internal/protocol/session"
	"github.com/danmuck/wsclient/internal/transport/wsconn"
	"github.com/spf13/cobra"
)

const (
	typeText uint8 = 1
	typeFile uint8 = 2

	drainTimeout = 5 * time.Second
)

func connectCmd() *cobra.Command {
	var flags connectFlags

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect and keep a session open",
		Long: `Connect dials the server and keeps the session alive until interrupted.

Each stdin line is sent as a type-1 packet with {"text": <line>} metadata.
When stdin ends, queued packets are flushed and the client disconnects.`,
		Example: `  wsclient connect --url ws://127.0.0.1:8090/ws
  wsclient connect --config client.toml --file ./report.pdf
  echo hello | wsclient connect -u wss://example.com/ws --codec cbor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			logs.Apply(logs.Config{
				Level:     config.Level(cfg.LogLevel),
				Timestamp: true,
				Out:       cmd.ErrOrStderr(),
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, cfg, flags.file, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

func runConnect(ctx context.Context, cfg config.ClientConfig, file string, in io.Reader, out io.Writer) error {
	tr, err := wsconn.New(cfg.Transport)
	if err != nil {
		return err
	}
	printer := &eventPrinter{out: out, codec: cfg.Session.WithDefaults().Codec}
	client, err := session.NewClient(cfg.Session, tr, printer)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		// the client keeps retrying on its own schedule
		logs.Warnf("wsclient: initial connect failed: %v", err)
	}

	if file != "" {
		p, err := filePacket(cfg.Session.WithDefaults().Codec, file)
		if err != nil {
			return err
		}
		if err := client.Send(p.Type(), p.Metadata(), p.Attachment()); err != nil {
			return err
		}
		logs.Infof("wsclient: queued %s (%s)", file, packet.FormatDataSize(int64(p.AttachmentLen())))
	}

	lines := make(chan string)
	go readLines(ctx, in, lines)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				flush(ctx, client)
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := client.SendValue(typeText, textMetadata{Text: line}, nil); err != nil {
				if errors.Is(err, session.ErrClientClosed) {
					return err
				}
				logs.Warnf("wsclient: drop line: %v", err)
			}
		}
	}
}

func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logs.Warnf("wsclient: read stdin: %v", err)
	}
}

// flush waits for queued packets, including one mid-write, before the
// deferred Close.
func flush(ctx context.Context, client *session.Client) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		logs.Warnf("wsclient: %d packet(s) still pending at exit: %v", client.Pending(), err)
	}
}

// eventPrinter writes session events to the command output, one per line.
type eventPrinter struct {
	mu    sync.Mutex
	out   io.Writer
	codec packet.Codec
}

var _ session.Handler = (*eventPrinter)(nil)

func (p *eventPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *eventPrinter) OnConnecting() {
	p.printf("connecting")
}

func (p *eventPrinter) OnConnected(clientID string) {
	p.printf("connected client_id=%s", clientID)
}

func (p *eventPrinter) OnDisconnected(code int, reason string) {
	p.printf("disconnected code=%d reason=%q", code, reason)
}

func (p *eventPrinter) OnReceivedPacket(pkt packet.Packet) {
	var text textMetadata
	if pkt.Type() == typeText && pkt.DecodeMetadata(p.codec, &text) == nil && text.Text != "" {
		p.printf("recv type=%d text=%q", pkt.Type(), text.Text)
		return
	}
	p.printf("recv type=%d metadata=%s attachment=%s", pkt.Type(),
		packet.FormatDataSize(int64(pkt.MetadataLen())), packet.FormatDataSize(int64(pkt.AttachmentLen())))
}

func (p *eventPrinter) OnError(err error) {
	p.printf("error %v", err)
}

func (p *eventPrinter) OnPingTime(rtt time.Duration) {
	p.printf("ping %s", rtt.Round(time.Microsecond))
}
