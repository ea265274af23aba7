package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/transports"
)

var _ transports.Participant = (*Call)(nil)

// Twilio media streams carry 8 kHz mu-law in 20 ms frames.
const (
	callRate    = 8000
	callChunkMS = 20
)

// Call is one connected phone call. It exposes the caller's audio as a
// capture source and outbound audio as a playback sink, both in 8 kHz PCM16;
// mu-law companding happens at the socket boundary.
type Call struct {
	conn     *websocket.Conn
	streamID string
	callSID  string
	from     string

	inbound chan audio.Chunk
	done    chan struct{}
	endOnce sync.Once
	reason  string

	writeMu sync.Mutex
	marks   sync.Map // mark name -> chan struct{}
	closed  atomic.Bool
}

func newCall(conn *websocket.Conn, streamID, callSID, from string) *Call {
	return &Call{
		conn:     conn,
		streamID: streamID,
		callSID:  callSID,
		from:     from,
		inbound:  make(chan audio.Chunk, 64),
		done:     make(chan struct{}),
	}
}

func (c *Call) ID() string   { return c.callSID }
func (c *Call) From() string { return c.from }

func (c *Call) Start(ctx context.Context) error { return nil }

func (c *Call) Rate() int { return callRate }

func (c *Call) ChunkDuration() time.Duration {
	return callChunkMS * time.Millisecond
}

// deliver decodes one inbound mu-law frame and queues it for Read. Frames
// arriving faster than the reader drains are dropped; live audio must not
// back-pressure the socket.
func (c *Call) deliver(payload []byte) {
	buf, err := codec.Decode(payload, codec.FormatULaw8000, callRate)
	if err != nil {
		return
	}
	chunk := audio.NewChunk(buf.Bytes(), callRate, 1)
	select {
	case c.inbound <- chunk:
	case <-c.done:
	default:
	}
}

func (c *Call) Read(ctx context.Context) (audio.Chunk, error) {
	select {
	case chunk := <-c.inbound:
		return chunk, nil
	case <-c.done:
		return audio.Chunk{}, errorsx.Errorf(errorsx.ReasonDeviceRead, "call %s ended (%s)", c.callSID, c.reason)
	case <-ctx.Done():
		return audio.Chunk{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonDeviceRead)
	}
}

type outboundMedia struct {
	Event    string `json:"event"`
	StreamID string `json:"streamSid"`
	Media    struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundMark struct {
	Event    string `json:"event"`
	StreamID string `json:"streamSid"`
	Mark     struct {
		Name string `json:"name"`
	} `json:"mark"`
}

func (c *Call) Write(ctx context.Context, chunk audio.Chunk) error {
	select {
	case <-c.done:
		return errorsx.Errorf(errorsx.ReasonDeviceWrite, "call %s ended (%s)", c.callSID, c.reason)
	case <-ctx.Done():
		return errorsx.Wrap(ctx.Err(), errorsx.ReasonDeviceWrite)
	default:
	}
	ulaw, err := codec.Encode(audio.BufferFromBytes(chunk.RawPayload(), chunk.Rate(), 1), codec.FormatULaw8000)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonFormatUnsupported)
	}
	msg := outboundMedia{Event: "media", StreamID: c.streamID}
	msg.Media.Payload = base64.StdEncoding.EncodeToString(ulaw)
	return c.send(msg)
}

// Drain sends a mark event and waits for Twilio to echo it back, which
// happens only after every queued media frame has been played to the caller.
func (c *Call) Drain() error {
	name := uuid.NewString()
	ack := make(chan struct{})
	c.marks.Store(name, ack)
	defer c.marks.Delete(name)

	msg := outboundMark{Event: "mark", StreamID: c.streamID}
	msg.Mark.Name = name
	if err := c.send(msg); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-c.done:
		return nil
	case <-time.After(30 * time.Second):
		return errorsx.Errorf(errorsx.ReasonDeviceWrite, "drain timed out on call %s", c.callSID)
	}
}

func (c *Call) markReceived(name string) {
	if ack, ok := c.marks.Load(name); ok {
		close(ack.(chan struct{}))
		c.marks.Delete(name)
	}
}

func (c *Call) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode media event: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDeviceWrite)
	}
	return nil
}

// Done is closed when the call ends from either side.
func (c *Call) Done() <-chan struct{} { return c.done }

func (c *Call) end(reason string) {
	c.endOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

func (c *Call) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.end("closed")
	}
	return nil
}
