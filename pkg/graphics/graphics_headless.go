//go:build !graphics

package graphics

// headlessDevice accepts init/draw calls and discards the frame. It exists
// so a default build doesn't need to link Ebiten at all.
type headlessDevice struct{}

// NewDevice returns the headless, no-op Device used by default builds.
func NewDevice() Device {
	return &headlessDevice{}
}

func (*headlessDevice) Init() error {
	return nil
}

func (*headlessDevice) Draw(pixels []byte, width, height int) error {
	return nil
}
