package nakama

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/heroiclabs/nakama-common/runtime"

	"github.com/straub/table/internal/protocol"
	"github.com/straub/table/internal/session"
)

// presenceConn delivers hub messages to one match presence.
type presenceConn struct {
	dispatcher runtime.MatchDispatcher
	presence   runtime.Presence

	left      atomic.Bool
	closeOnce sync.Once
}

func newPresenceConn(dispatcher runtime.MatchDispatcher, presence runtime.Presence) *presenceConn {
	return &presenceConn{dispatcher: dispatcher, presence: presence}
}

// markLeft records that the presence already left the match, so Close has nothing to kick.
func (c *presenceConn) markLeft() { c.left.Store(true) }

func (c *presenceConn) Send(msg protocol.Outbound) error {
	op, ok := outboundOps[msg.Event]
	if !ok {
		return fmt.Errorf("no op code for event %q", msg.Event)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.dispatcher.BroadcastMessage(op, data, []runtime.Presence{c.presence}, nil, true)
}

// Close kicks a presence the hub dropped while it is still in the match. Nakama then
// reports the leave and the client rejoins and resyncs.
func (c *presenceConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.left.Load() {
			return
		}
		err = c.dispatcher.MatchKick([]runtime.Presence{c.presence})
	})
	return err
}

var _ session.Conn = (*presenceConn)(nil)
