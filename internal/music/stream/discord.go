package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"
)

// Encoder turns one PCM frame into an opus packet.
type Encoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

// NewOpusEncoder returns a gopus encoder for 48kHz stereo audio.
func NewOpusEncoder() (Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("encoder error: %w", err)
	}
	return enc, nil
}

// Sink accepts opus packets.
type Sink interface {
	Send(ctx context.Context, packet []byte) error
}

// VoiceSink sends packets over a discordgo voice connection.
type VoiceSink struct {
	VC *discordgo.VoiceConnection
}

// Send blocks until the packet is accepted or ctx is done.
func (s VoiceSink) Send(ctx context.Context, packet []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.VC.OpusSend <- packet:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("voice connection not accepting audio")
	}
}

// Options are read on every frame so changes apply immediately.
type Options struct {
	Volume func() int // 1-100; 100 is unity gain
	Gate   *Gate      // optional pause gate
	OnRead func(n int)
}

// Play pumps src into sink until src ends or ctx is done. A clean end of
// input returns nil; the caller checks the Source's Wait for decoder
// failures.
func Play(ctx context.Context, src io.Reader, enc Encoder, sink Sink, opts Options) error {
	pcmBuf := make([]byte, frameSize*channels*2)
	intBuf := make([]int16, frameSize*channels)

	for {
		if opts.Gate != nil {
			if err := opts.Gate.Wait(ctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(src, pcmBuf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// pad the final partial frame with silence
			clear(pcmBuf[n:])
		} else if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		if opts.OnRead != nil {
			opts.OnRead(n)
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}
		if opts.Volume != nil {
			ScalePCM(intBuf, opts.Volume())
		}

		packet, err := enc.Encode(intBuf, frameSize, len(pcmBuf))
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
		if err := sink.Send(ctx, packet); err != nil {
			return err
		}

		if n < len(pcmBuf) {
			return nil
		}
	}
}

// ScalePCM applies volume (1-100, 100 is unity) in place with clipping.
func ScalePCM(samples []int16, volume int) {
	if volume >= 100 {
		return
	}
	if volume < 0 {
		volume = 0
	}
	for i, s := range samples {
		v := int32(s) * int32(volume) / 100
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
}
