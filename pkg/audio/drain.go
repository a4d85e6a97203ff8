package audio

// Drain reads from ch until it is closed, discarding every value. Use it when
// a session's output must keep flowing but nobody wants to hear it (e.g. the
// text-only CLI commands), so the producer's drop-oldest path stays idle.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
