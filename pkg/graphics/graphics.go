// Package graphics implements the optional framebuffer surface the guest
// drives through the 0xBEEF0 (init) and 0xBEEF1 (draw) custom syscalls.
//
// The backend is selected at compile time: building with the "graphics"
// tag links in an Ebiten-backed window (graphics_ebiten.go); a normal build
// links the headless stub (graphics_headless.go), which accepts the calls
// and does nothing. Guests that never issue SYS_init/SYS_draw behave
// identically either way.
package graphics

// Device is a guest-driven pixel surface. Init prepares it for drawing;
// Draw blits a tightly packed RGBA buffer of width*height*4 bytes.
type Device interface {
	Init() error
	Draw(pixels []byte, width, height int) error
}
