package opus

import (
	"bytes"
	"encoding/binary"
)

const (
	// SampleRate is the rate the codec runs at in both directions.
	SampleRate = 24000
	// Channels is the channel count in both directions.
	Channels = 1
	// FrameSize is the number of samples per encoded Opus frame (40 ms at 24 kHz).
	FrameSize = 960

	// declaredSampleRate is written into OpusHead. It is container metadata
	// and intentionally differs from SampleRate.
	declaredSampleRate = 48000
	preSkip            = 3840
	vendor             = "KyutaiMoshi"

	streamSerial = 42
)

var (
	idHeaderMagic      = []byte("OpusHead")
	commentHeaderMagic = []byte("OpusTags")
)

// IDHeader returns the OpusHead identification header packet.
// See https://wiki.xiph.org/OggOpus#ID_Header.
func IDHeader() []byte {
	var b bytes.Buffer
	b.Write(idHeaderMagic)
	b.WriteByte(1) // version
	b.WriteByte(Channels)
	_ = binary.Write(&b, binary.LittleEndian, uint16(preSkip))
	_ = binary.Write(&b, binary.LittleEndian, uint32(declaredSampleRate))
	_ = binary.Write(&b, binary.LittleEndian, int16(0)) // output gain
	b.WriteByte(0)                                     // channel mapping family
	return b.Bytes()
}

// CommentHeader returns the OpusTags comment header packet with no user comments.
// See https://wiki.xiph.org/OggOpus#Comment_Header.
func CommentHeader() []byte {
	var b bytes.Buffer
	b.Write(commentHeaderMagic)
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(vendor)))
	b.WriteString(vendor)
	_ = binary.Write(&b, binary.LittleEndian, uint32(0))
	return b.Bytes()
}

// IsHeader reports whether packet is an OpusHead or OpusTags header.
func IsHeader(packet []byte) bool {
	return bytes.HasPrefix(packet, idHeaderMagic) || bytes.HasPrefix(packet, commentHeaderMagic)
}
