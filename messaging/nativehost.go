package messaging

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"fetchbridge/logger"
)

const (
	// MaxReplyBytes is the browser's limit for a host-to-extension message.
	MaxReplyBytes = 1 << 20
	// MaxMessageBytes bounds inbound frames (the browser caps them at 64 MiB).
	MaxMessageBytes = 64 << 20
)

var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// ReadFrame reads one length-prefixed message: a little-endian uint32 byte
// count followed by that many bytes of JSON.
func ReadFrame(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > MaxMessageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxReplyBytes {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Host serves the native messaging protocol over a reader and writer,
// normally the process's stdin and stdout.
type Host struct {
	in         *bufio.Reader
	out        io.Writer
	dispatcher *Dispatcher

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewHost(in io.Reader, out io.Writer, dispatcher *Dispatcher) *Host {
	return &Host{in: bufio.NewReader(in), out: out, dispatcher: dispatcher}
}

// Run reads frames until the input closes or ctx is cancelled, handling each
// message on its own goroutine. It waits for in-flight handlers before
// returning. A clean end of input returns nil.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		h.wg.Wait()
		cancel()
	}()

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			frame, err := ReadFrame(h.in)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				logger.Info("NativeHost: input closed, shutting down")
				return nil
			}
			logger.Error("NativeHost: reading frame: %v", err)
			return err
		case frame := <-frames:
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.handle(ctx, frame)
			}()
		}
	}
}

func (h *Host) handle(ctx context.Context, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("NativeHost: panic handling message: %v", r)
		}
	}()
	msg, err := ParseMessage(frame)
	if err != nil {
		logger.Warn("NativeHost: %v", err)
		h.reply(errorReply(msg.ID, msg.Type, err))
		return
	}
	logger.Debug("NativeHost: %s %s (tab %d)", msg.Type, msg.ID, msg.TabID)
	h.reply(h.dispatcher.Dispatch(ctx, msg))
}

// reply encodes and writes r. Oversized replies become an error reply so the
// extension is never left waiting.
func (h *Host) reply(r Reply) {
	payload, err := json.Marshal(r)
	if err == nil && len(payload) > MaxReplyBytes {
		logger.Warn("NativeHost: reply to %s is %d bytes, over the %d byte limit", r.ID, len(payload), MaxReplyBytes)
		payload, err = json.Marshal(errorReply(r.ID, r.Type,
			fmt.Errorf("reply of %d bytes exceeds the native messaging limit; use the stream bridge or a smaller request", len(payload))))
	}
	if err != nil {
		logger.Error("NativeHost: encoding reply to %s: %v", r.ID, err)
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := WriteFrame(h.out, payload); err != nil {
		logger.Error("NativeHost: writing reply to %s: %v", r.ID, err)
	}
}
