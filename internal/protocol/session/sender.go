package session

import (
	"context"
	"fmt"
	"time"

	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/danmuck/wsclient/internal/observability"
	"github.com/danmuck/wsclient/internal/protocol/packet"
)

func (c *Client) runSender(ctx context.Context) error {
	idle := time.NewTicker(c.cfg.SendIdleInterval)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.queue.wake:
		case <-idle.C:
		}
		c.drainQueue(ctx)
	}
}

// drainQueue sends queued packets in order while the transport is open. A
// failed packet returns to the head and the loop backs off before retrying.
func (c *Client) drainQueue(ctx context.Context) {
	for ctx.Err() == nil && c.tr.IsOpen() {
		// inFlight rises before the pop so Pending never reads zero mid-send.
		c.inFlight.Add(1)
		p, ok := c.queue.popFront()
		if !ok {
			c.inFlight.Add(-1)
			return
		}
		err := c.sendPacket(p)
		if err != nil {
			c.queue.pushFront(p)
		}
		c.inFlight.Add(-1)
		if err != nil {
			observability.RecordSendFailure()
			logs.Warnf("session.Client.drainQueue requeued type=%d err=%v", p.Type(), err)
			timer := time.NewTimer(c.cfg.SendRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		observability.SetQueueDepth(c.queue.len())
	}
}

func (c *Client) sendPacket(p packet.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: transport panic: %v", ErrSendFailure, r)
		}
	}()
	frame := p.Bytes()
	if c.cfg.Verbose {
		logs.Debugf("session.Client.send type=%d metadata=%s attachment=%s",
			p.Type(), p.MetadataString(), packet.FormatDataSize(int64(p.AttachmentLen())))
	} else {
		logs.Debugf("session.Client.send type=%d size=%s", p.Type(), packet.FormatDataSize(int64(len(frame))))
	}
	if err := c.tr.Send(frame); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}
	observability.RecordPacketSent(len(frame))
	return nil
}
