//go:build graphics

package graphics

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

// ebitenDevice backs the guest's 0xBEEF0/0xBEEF1 syscalls with a real
// window. The guest's draw call is synchronous and much slower than the
// display's refresh rate, so it just replaces a shared frame buffer; a
// separate goroutine runs Ebiten's own render loop against whatever frame
// is current.
type ebitenDevice struct {
	mu      sync.Mutex
	pixels  []byte
	width   int
	height  int
	img     *ebiten.Image
	started bool
}

// NewDevice returns the Ebiten-backed Device used by graphics-enabled
// builds.
func NewDevice() Device {
	return &ebitenDevice{}
}

func (d *ebitenDevice) Init() error {
	d.mu.Lock()
	already := d.started
	d.started = true
	d.mu.Unlock()
	if already {
		return nil
	}
	go func() {
		ebiten.SetWindowSize(640, 400)
		ebiten.SetWindowTitle("rv32emu")
		ebiten.RunGame(&gameLoop{device: d})
	}()
	return nil
}

func (d *ebitenDevice) Draw(pixels []byte, width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf := make([]byte, len(pixels))
	copy(buf, pixels)
	d.pixels = buf
	d.width = width
	d.height = height
	return nil
}

func (d *ebitenDevice) frame() (pixels []byte, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pixels, d.width, d.height
}

// gameLoop adapts an ebitenDevice to the ebiten.Game interface. It is a
// separate type from ebitenDevice because ebiten.Game's Draw(*ebiten.Image)
// and Device's Draw(pixels, w, h) can't coexist on one receiver.
type gameLoop struct {
	device *ebitenDevice
}

func (g *gameLoop) Update() error {
	return nil
}

func (g *gameLoop) Draw(screen *ebiten.Image) {
	pixels, width, height := g.device.frame()
	if len(pixels) == 0 || width == 0 || height == 0 {
		return
	}
	if g.device.img == nil || g.device.img.Bounds().Dx() != width || g.device.img.Bounds().Dy() != height {
		g.device.img = ebiten.NewImage(width, height)
	}
	g.device.img.WritePixels(pixels)
	op := &ebiten.DrawImageOptions{}
	screen.DrawImage(g.device.img, op)
}

func (g *gameLoop) Layout(outsideWidth, outsideHeight int) (int, int) {
	_, width, height := g.device.frame()
	if width == 0 || height == 0 {
		return 640, 400
	}
	return width, height
}
