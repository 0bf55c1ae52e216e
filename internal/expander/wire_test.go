package expander

import "encoding/binary"

// Test helpers that build records the way the Pixelblaze emits them.

var trailer = []byte{0xDE, 0xAD, 0xBE, 0xEF}

func record(channel uint8, cmd Command, payload ...byte) []byte {
	out := append([]byte(Magic), channel, byte(cmd))
	out = append(out, payload...)
	return append(out, trailer...)
}

func ws2812(channel, elements, order uint8, pixels uint16, data []byte) []byte {
	p := []byte{elements, order, 0, 0}
	binary.LittleEndian.PutUint16(p[2:], pixels)
	return record(channel, CmdSetChannelWS2812, append(p, data...)...)
}

func apa102(channel uint8, freq uint32, order uint8, pixels uint16, data []byte) []byte {
	p := make([]byte, apa102DataSize)
	binary.LittleEndian.PutUint32(p[0:4], freq)
	p[4] = order
	binary.LittleEndian.PutUint16(p[5:7], pixels)
	return record(channel, CmdSetChannelAPA102Data, append(p, data...)...)
}

func apa102Clock(channel uint8, freq uint32) []byte {
	p := make([]byte, apa102ClockSize)
	binary.LittleEndian.PutUint32(p, freq)
	return record(channel, CmdSetChannelAPA102Clock, p...)
}

func drawAll() []byte { return record(0, CmdDrawAll) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
