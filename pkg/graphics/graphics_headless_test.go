//go:build !graphics

package graphics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadlessDeviceAcceptsInitAndDraw(t *testing.T) {
	d := NewDevice()
	assert.NoError(t, d.Init())
	assert.NoError(t, d.Draw(make([]byte, 64*64*4), 64, 64))
}

func TestHeadlessDeviceIsTheDefaultDevice(t *testing.T) {
	var d Device = NewDevice()
	_, ok := d.(*headlessDevice)
	assert.True(t, ok)
}
