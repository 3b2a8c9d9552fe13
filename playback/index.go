package playback

import (
	"math"
	"time"
)

// WordIndex maps an elapsed playback position onto a word of an n-word answer.
// An unknown or zero duration counts as one second. The result is clamped to
// [0, n-1]; it is 0 when there are no words.
func WordIndex(elapsed, total time.Duration, n int) int {
	if n <= 0 {
		return 0
	}
	if total <= 0 {
		total = time.Second
	}
	if elapsed < 0 {
		elapsed = 0
	}
	idx := int(math.Floor(elapsed.Seconds() / total.Seconds() * float64(n)))
	if idx > n-1 {
		return n - 1
	}
	return idx
}
