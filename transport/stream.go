// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/syncroom/syncroom/lib/codec"
	"github.com/syncroom/syncroom/protocol"
)

// streamFrame is one message on the media channel. Exactly one of
// Header, Chunk, or End is meaningful per frame.
type streamFrame struct {
	Header   *protocol.StreamHeader `cbor:"header,omitempty"`
	StreamID string                 `cbor:"stream_id,omitempty"`
	Chunk    []byte                 `cbor:"chunk,omitempty"`
	End      bool                   `cbor:"end,omitempty"`
}

// mediaCodec compresses outbound and restores inbound stream payloads.
// The zstd encoder and decoder are safe for concurrent EncodeAll and
// DecodeAll and are shared by every transport of a factory.
type mediaCodec struct {
	compress bool
	maxBytes int64
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

func newMediaCodec(compress bool, maxBytes int64) (*mediaCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxBytes)))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &mediaCodec{
		compress: compress,
		maxBytes: maxBytes,
		encoder:  encoder,
		decoder:  decoder,
	}, nil
}

// frames splits media into the header, chunk, and end frames sent on
// the media channel.
func (c *mediaCodec) frames(media protocol.Media, chunkSize int) ([][]byte, error) {
	digest := blake3.Sum256(media.Data)

	payload := media.Data
	encoding := protocol.EncodingIdentity
	if c.compress {
		payload = c.encoder.EncodeAll(media.Data, nil)
		encoding = protocol.EncodingZstd
	}

	streamID := uuid.NewString()
	header := &protocol.StreamHeader{
		StreamID: streamID,
		TrackID:  media.TrackID,
		Kind:     media.Kind,
		Size:     int64(len(payload)),
		Encoding: encoding,
		Digest:   digest[:],
	}

	frames := make([][]byte, 0, len(payload)/chunkSize+3)
	encoded, err := codec.Marshal(streamFrame{Header: header})
	if err != nil {
		return nil, fmt.Errorf("encoding stream header: %w", err)
	}
	frames = append(frames, encoded)

	for offset := 0; offset < len(payload); offset += chunkSize {
		end := min(offset+chunkSize, len(payload))
		encoded, err := codec.Marshal(streamFrame{StreamID: streamID, Chunk: payload[offset:end]})
		if err != nil {
			return nil, fmt.Errorf("encoding stream chunk: %w", err)
		}
		frames = append(frames, encoded)
	}

	encoded, err = codec.Marshal(streamFrame{StreamID: streamID, End: true})
	if err != nil {
		return nil, fmt.Errorf("encoding stream end: %w", err)
	}
	return append(frames, encoded), nil
}

// inboundStream accumulates the chunks of one stream.
type inboundStream struct {
	header protocol.StreamHeader
	buffer bytes.Buffer
}

// reassembler tracks the streams in progress on one media channel. Not
// safe for concurrent use; pion delivers a channel's messages serially.
type reassembler struct {
	codec   *mediaCodec
	streams map[string]*inboundStream
}

func newReassembler(mc *mediaCodec) *reassembler {
	return &reassembler{codec: mc, streams: make(map[string]*inboundStream)}
}

var errStreamCorrupt = errors.New("corrupt media stream")

// accept consumes one frame. It returns the completed media when the
// frame ends a stream, and an error (the stream is discarded) when the
// frame violates the stream's header.
func (r *reassembler) accept(data []byte) (*protocol.Media, error) {
	var frame streamFrame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: decoding frame: %v", errStreamCorrupt, err)
	}

	if frame.Header != nil {
		header := *frame.Header
		if header.StreamID == "" {
			return nil, fmt.Errorf("%w: header without stream id", errStreamCorrupt)
		}
		if header.Size < 0 || header.Size > r.codec.maxBytes {
			return nil, fmt.Errorf("%w: stream %s size %d exceeds limit %d",
				errStreamCorrupt, header.StreamID, header.Size, r.codec.maxBytes)
		}
		if header.Encoding != protocol.EncodingIdentity && header.Encoding != protocol.EncodingZstd {
			return nil, fmt.Errorf("%w: stream %s has unknown encoding %q",
				errStreamCorrupt, header.StreamID, header.Encoding)
		}
		stream := &inboundStream{header: header}
		stream.buffer.Grow(int(min(header.Size, 1<<20)))
		r.streams[header.StreamID] = stream
		return nil, nil
	}

	stream, ok := r.streams[frame.StreamID]
	if !ok {
		return nil, fmt.Errorf("%w: frame for unknown stream %s", errStreamCorrupt, frame.StreamID)
	}

	if !frame.End {
		if int64(stream.buffer.Len()+len(frame.Chunk)) > stream.header.Size {
			delete(r.streams, frame.StreamID)
			return nil, fmt.Errorf("%w: stream %s overran its declared size %d",
				errStreamCorrupt, frame.StreamID, stream.header.Size)
		}
		stream.buffer.Write(frame.Chunk)
		return nil, nil
	}

	delete(r.streams, frame.StreamID)
	if int64(stream.buffer.Len()) != stream.header.Size {
		return nil, fmt.Errorf("%w: stream %s ended at %d of %d bytes",
			errStreamCorrupt, frame.StreamID, stream.buffer.Len(), stream.header.Size)
	}

	payload := stream.buffer.Bytes()
	if stream.header.Encoding == protocol.EncodingZstd {
		decoded, err := r.codec.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing stream %s: %v", errStreamCorrupt, frame.StreamID, err)
		}
		payload = decoded
	}

	digest := blake3.Sum256(payload)
	if !bytes.Equal(digest[:], stream.header.Digest) {
		return nil, fmt.Errorf("%w: stream %s digest mismatch", errStreamCorrupt, frame.StreamID)
	}

	return &protocol.Media{
		TrackID: stream.header.TrackID,
		Kind:    stream.header.Kind,
		Data:    payload,
	}, nil
}

// reset discards all partial streams, used when the channel closes.
func (r *reassembler) reset() {
	clear(r.streams)
}
