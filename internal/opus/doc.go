// Package opus handles encoding and decoding of Ogg-contained Opus audio for
// the chat session.
//
// Outbound, Encoder queues captured PCM, cuts it into fixed 960-sample frames,
// encodes each frame and writes it as its own Ogg page. The stream starts with
// the OpusHead and OpusTags header pages so it is self-describing from its
// first byte.
//
// Inbound, PacketReader parses Ogg pages from a byte stream into packets and
// Decoder turns the audio packets back into PCM, skipping the header packets.
// DecodeStream runs that pipeline until the stream ends.
package opus
