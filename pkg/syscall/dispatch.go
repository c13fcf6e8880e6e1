// Package syscall implements the host-side half of the guest's ecall ABI:
// translating a syscall number in a7 plus argument registers a0..a5 into a
// host operation, and writing its result back to a0.
package syscall

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rv32emu/rv32emu/pkg/graphics"
	"github.com/rv32emu/rv32emu/pkg/vm"
)

// Syscall numbers this dispatcher recognizes. Anything else is fatal.
const (
	sysClose    = 57
	sysLseek    = 62
	sysRead     = 63
	sysWrite    = 64
	sysFstat    = 80
	sysExit     = 93
	sysBrk      = 214
	sysOpen     = 1024
	sysMkdir    = 1030
	sysGfxInit  = 0xBEEF0
	sysGfxDraw  = 0xBEEF1
	sysGetTicks = 0xBEEF2
	sysSleep    = 0xBEEF3
)

// maxStringArg bounds how many bytes a NUL-terminated guest string (a path)
// is read as before giving up and truncating at the first NUL found.
const maxStringArg = 256

// ExitError carries the guest's requested exit code. The top-level driver
// checks for it with errors.As to distinguish a clean exit from a trap.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("vm: guest exited with code %d", e.Code)
}

// Unwrap makes errors.Is(err, vm.ErrGuestExit) hold for an ExitError.
func (e *ExitError) Unwrap() error {
	return vm.ErrGuestExit
}

// Dispatcher is the default SyscallHandler, implementing the subset of the
// newlib syscall ABI described in the specification. Fd-based I/O
// (open/read/write/close/lseek) operates on raw host file descriptors, just
// like the guest runtime expects; Dispatcher tracks which ones it opened so
// the driver can close anything the guest forgot about.
type Dispatcher struct {
	Device graphics.Device
	launch time.Time
	opened map[int]bool
}

// NewDispatcher returns a Dispatcher with its clock origin set to now. Pass
// a nil Device to run headless; the graphics syscalls then fail softly.
func NewDispatcher(device graphics.Device) *Dispatcher {
	return &Dispatcher{
		Device: device,
		launch: time.Now(),
		opened: make(map[int]bool),
	}
}

// Close closes every host fd this dispatcher opened that the guest never
// closed itself. Called by the driver on shutdown.
func (d *Dispatcher) Close() {
	for fd := range d.opened {
		unix.Close(fd)
	}
	d.opened = make(map[int]bool)
}

// Handle implements vm.SyscallHandler.
func (d *Dispatcher) Handle(m *vm.Machine) error {
	num := m.Regs.Get(indexA7)
	args := [6]uint32{
		m.Regs.Get(indexA0), m.Regs.Get(indexA1), m.Regs.Get(indexA2),
		m.Regs.Get(indexA3), m.Regs.Get(indexA4), m.Regs.Get(indexA5),
	}

	ret, err := d.dispatch(m, num, args)
	if err != nil {
		return err
	}
	m.Regs.Set(indexA0, uint32(ret))
	return nil
}

// Register-file indices for the syscall ABI (a0..a7), mirrored here so this
// package doesn't need vm's by-name lookup on every call.
const (
	indexA0 = 10
	indexA1 = 11
	indexA2 = 12
	indexA3 = 13
	indexA4 = 14
	indexA5 = 15
	indexA7 = 17
)

func (d *Dispatcher) dispatch(m *vm.Machine, num uint32, a [6]uint32) (int32, error) {
	switch num {
	case sysClose:
		return d.doClose(int(a[0]))
	case sysLseek:
		return d.doLseek(int(a[0]), int64(int32(a[1])), int(a[2]))
	case sysRead:
		return d.doRead(m, int(a[0]), a[1], int(a[2]))
	case sysWrite:
		return d.doWrite(m, int(a[0]), a[1], int(a[2]))
	case sysFstat:
		return -1, nil
	case sysExit:
		return 0, &ExitError{Code: int(int32(a[0]))}
	case sysBrk:
		return int32(m.Mem.Brk(a[0])), nil
	case sysOpen:
		return d.doOpen(m, a[0], int(a[1]), int(a[2]))
	case sysMkdir:
		return d.doMkdir(m, a[0], int(a[1]))
	case sysGfxInit:
		return d.doGfxInit()
	case sysGfxDraw:
		return d.doGfxDraw(m, a[0], a[1], a[2])
	case sysGetTicks:
		return int32(time.Since(d.launch).Milliseconds()), nil
	case sysSleep:
		time.Sleep(time.Duration(a[0]) * time.Millisecond)
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: syscall %d", vm.ErrUnimplementedSyscall, num)
	}
}

func isStdioFd(fd int) bool {
	return fd == 0 || fd == 1 || fd == 2
}

func (d *Dispatcher) doClose(fd int) (int32, error) {
	if isStdioFd(fd) {
		return 0, nil
	}
	if err := unix.Close(fd); err != nil {
		return -1, nil
	}
	delete(d.opened, fd)
	return 0, nil
}

func (d *Dispatcher) doLseek(fd int, offset int64, whence int) (int32, error) {
	if isStdioFd(fd) {
		return 0, nil
	}
	off, err := unix.Seek(fd, offset, whence)
	if err != nil {
		return -1, nil
	}
	return int32(off), nil
}

func (d *Dispatcher) doRead(m *vm.Machine, fd int, bufAddr uint32, count int) (int32, error) {
	buf := make([]byte, count)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return -1, nil
	}
	if err := m.Mem.Write(bufAddr, buf[:n]); err != nil {
		return -1, nil
	}
	return int32(n), nil
}

func (d *Dispatcher) doWrite(m *vm.Machine, fd int, bufAddr uint32, count int) (int32, error) {
	if fd == 0 {
		return -1, nil
	}
	buf, err := m.Mem.Read(bufAddr, count)
	if err != nil {
		return -1, nil
	}
	n, err := unix.Write(fd, buf)
	if err != nil {
		return -1, nil
	}
	return int32(n), nil
}

func (d *Dispatcher) doOpen(m *vm.Machine, pathAddr uint32, flags, mode int) (int32, error) {
	path, err := readCString(m, pathAddr)
	if err != nil {
		return -1, nil
	}
	fd, err := unix.Open(path, flags, uint32(mode))
	if err != nil {
		return -1, nil
	}
	d.opened[fd] = true
	return int32(fd), nil
}

func (d *Dispatcher) doMkdir(m *vm.Machine, pathAddr uint32, mode int) (int32, error) {
	path, err := readCString(m, pathAddr)
	if err != nil {
		return -1, nil
	}
	if err := unix.Mkdir(path, uint32(mode)); err != nil {
		if err == unix.EEXIST {
			return 0, nil
		}
		return -1, nil
	}
	return 0, nil
}

func (d *Dispatcher) doGfxInit() (int32, error) {
	if d.Device == nil {
		return -1, nil
	}
	if err := d.Device.Init(); err != nil {
		return -1, nil
	}
	return 1337, nil
}

// maxFramebufferDim bounds each side of a guest-requested draw so that a
// bogus or hostile width/height can't force a multi-gigabyte host read.
const maxFramebufferDim = 4096

func (d *Dispatcher) doGfxDraw(m *vm.Machine, bufAddr, width, height uint32) (int32, error) {
	if d.Device == nil {
		return -1, nil
	}
	if width > maxFramebufferDim || height > maxFramebufferDim {
		return -1, nil
	}
	pixels, err := m.Mem.Read(bufAddr, int(width)*int(height)*4)
	if err != nil {
		return -1, nil
	}
	if err := d.Device.Draw(pixels, int(width), int(height)); err != nil {
		return -1, nil
	}
	return 0, nil
}

// readCString reads up to maxStringArg bytes from addr and truncates at the
// first NUL byte, matching newlib's expectation for path arguments.
func readCString(m *vm.Machine, addr uint32) (string, error) {
	raw, err := m.Mem.Read(addr, maxStringArg)
	if err != nil {
		return "", err
	}
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}
