package nodeprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowMeanOfEmptyIsZero(t *testing.T) {
	w := newWindow(3)
	assert.Equal(t, 0.0, w.mean())
}

func TestWindowDropsOldestBeyondCapacity(t *testing.T) {
	w := newWindow(3)
	w.push(1)
	w.push(2)
	w.push(3)
	w.push(4) // drops the 1
	assert.Equal(t, 3, w.len())
	assert.Equal(t, 3.0, w.mean()) // (2+3+4)/3
}

func TestWindowMeanLastClampsToAvailable(t *testing.T) {
	w := newWindow(10)
	w.push(10)
	w.push(20)
	assert.Equal(t, 15.0, w.meanLast(5))
}
