package audio

import "time"

// AudioFrame is one batch of decoded linear PCM flowing between the protocol
// pipeline and an audio device. Data holds interleaved little-endian int16
// samples.
//
// Ownership of Data transfers with the frame: once a frame is pushed into a
// [Queue] or sent on a channel the sender must not touch Data again.
type AudioFrame struct {
	// Data is interleaved int16 PCM, little-endian.
	Data []byte

	// SampleRate in Hz (16000 for the default PTT stream).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// StreamID names the inbound stream that produced the frame. Zero for
	// captured (outbound) audio.
	StreamID uint32

	// Timestamp is the offset of the first sample relative to stream start.
	Timestamp time.Duration
}

// Format returns the sample format of the frame.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Samples returns the number of samples per channel held in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
