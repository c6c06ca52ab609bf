// Package loader implements the Initium kernel-load pipeline: it parses a
// kernel ELF and its embedded image tags, plans the kernel's virtual and
// physical layout, loads segments and modules, emits the handoff tag list
// and enters the kernel through the trampoline.
//
// The package has two layers with different error contracts. Prepare runs
// in the command phase: every failure unwinds the partially built state and
// returns an error to the command interpreter. Load runs after the command
// layer commits to booting: every failure is fatal and ends in a one-line
// diagnostic and a platform reset.
package loader

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/cpu"
	"github.com/gil0mendes/LAOS/kernel/hal/device"
	"github.com/gil0mendes/LAOS/kernel/hal/firmware"
	"github.com/gil0mendes/LAOS/kernel/hal/fs"
	"github.com/gil0mendes/LAOS/kernel/initium/elf"
	"github.com/gil0mendes/LAOS/kernel/initium/handoff"
	"github.com/gil0mendes/LAOS/kernel/initium/itag"
	"github.com/gil0mendes/LAOS/kernel/initium/memmgr"
	"github.com/gil0mendes/LAOS/kernel/initium/mmu"
	"github.com/gil0mendes/LAOS/kernel/initium/phys"
	"github.com/gil0mendes/LAOS/kernel/initium/valloc"
	"github.com/gil0mendes/LAOS/kernel/kfmt"
)

// Version is the Initium protocol version this loader implements. A kernel
// built against any other version is rejected.
const Version = 1

// Config wires the pipeline to its collaborators.
type Config struct {
	FS          fs.FS
	Platform    firmware.Platform
	Mapper      phys.Mapper
	Memory      *memmgr.Manager
	Environment *Environment

	// BootDevice is the device the kernel image was opened from, used
	// for the BOOTDEV tag when no root_device override is set.
	BootDevice *device.Device
}

// module is a kernel module bound during the command phase and loaded
// during the pipeline.
type module struct {
	name   string
	handle fs.Handle
}

// Loader is the per-boot load state. It is created by Prepare and consumed
// by Load, which does not return.
type Loader struct {
	cfg  Config
	path string

	handle fs.Handle
	img    *elf.Image
	mode   mmu.Mode

	itags   itag.Registry
	image   itag.ImageTag
	load    itag.LoadTag
	modules []module

	mappings  []mapping
	mmu       *mmu.Context
	trampMMU  *mmu.Context
	allocator valloc.Allocator
	tags      *handoff.Builder

	entry      uint64
	kernelPhys uint64
	tagsVirt   uint64
	stackBase  uint64
	stackSize  uint32

	trampolinePhys uint64
	trampolineVirt uint64
}

// sliceWriter collects kfmt output into a buffer, used to build the
// dynamic messages of command-phase errors.
type sliceWriter struct {
	buf []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// configErrorf builds a recoverable command-phase error. Unlike the fatal
// path this may allocate: the command phase runs with the loader heap
// available.
func configErrorf(format string, args ...interface{}) *kernel.Error {
	var w sliceWriter
	kfmt.Fprintf(&w, format, args...)
	return &kernel.Error{Module: "loader", Message: string(w.buf)}
}

var (
	errInvalidArguments = &kernel.Error{Module: "loader", Message: "Invalid arguments"}
	errNotRegularFile   = &kernel.Error{Module: "loader", Message: "not a regular file"}
)

// bootErrorFn is the divergent fatal-error sink; tests mock it.
var bootErrorFn = bootError

// bootError prints a one-line diagnostic to the debug console and resets
// the platform. It never returns.
func bootError(format string, args ...interface{}) {
	kfmt.Printf("\nboot error: ")
	kfmt.Printf(format, args...)
	kfmt.Printf("\n")

	if p := firmware.Active(); p != nil {
		p.Reboot()
	}
	cpu.Halt()
}

// Args is the argument list of the boot command: the kernel path plus
// either an explicit module path list or a module directory.
type Args struct {
	Path      string
	Modules   []string
	ModuleDir string
}

// Prepare binds a kernel image: it opens and identifies the ELF, collects
// the image tags, registers kernel-declared options in the environment and
// opens the module handles. On any failure the partially built state is
// released and an error is returned to the command interpreter.
func Prepare(cfg Config, args Args) (*Loader, *kernel.Error) {
	if args.Path == "" || (len(args.Modules) > 0 && args.ModuleDir != "") {
		return nil, errInvalidArguments
	}

	l := &Loader{cfg: cfg, path: args.Path}

	ok := false
	defer func() {
		if !ok {
			l.unwind()
		}
	}()

	handle, err := cfg.FS.Open(args.Path)
	if err != nil {
		return nil, configErrorf("Error opening '%s': %s", args.Path, err.Message)
	}
	l.handle = handle
	if handle.FileType() != fs.TypeRegular {
		return nil, errNotRegularFile
	}

	img, err := elf.Identify(handle)
	if err != nil {
		if err == elf.ErrNotELF {
			return nil, configErrorf("'%s' is not a supported ELF image", args.Path)
		}
		return nil, configErrorf("Error reading '%s': %s", args.Path, err.Message)
	}
	l.img = img
	l.mode = mmu.Mode32
	if img.Class == elf.Class64 {
		l.mode = mmu.Mode64
	}

	if err := l.collectImageTags(); err != nil {
		return nil, err
	}

	raw, found := l.itags.First(itag.Image)
	if !found {
		return nil, configErrorf("'%s' is not a Initium kernel", args.Path)
	}
	l.image = itag.DecodeImage(raw.Raw)
	if l.image.Version != Version {
		return nil, configErrorf("'%s' has unsupported Initium version %d", args.Path, l.image.Version)
	}
	if l.image.Flags&itag.ImageSections != 0 {
		return nil, configErrorf("'%s' requests ELF section loading, which is not supported", args.Path)
	}

	if err := l.addOptions(); err != nil {
		return nil, err
	}

	if root := cfg.Environment.RootDevice; root != "" {
		if !hasPrefix(root, "uuid:") && !hasPrefix(root, "other:") {
			if device.Lookup(root) == nil {
				return nil, configErrorf("Root device '%s' not found", root)
			}
		}
	}

	if len(args.Modules) > 0 {
		if err := l.addModuleList(args.Modules); err != nil {
			return nil, err
		}
	} else if args.ModuleDir != "" {
		if err := l.addModuleDir(args.ModuleDir); err != nil {
			return nil, err
		}
	}

	ok = true
	return l, nil
}

// unwind releases every resource the command phase acquired.
func (l *Loader) unwind() {
	for _, mod := range l.modules {
		mod.handle.Close()
	}
	l.modules = nil

	if l.handle != nil {
		l.handle.Close()
		l.handle = nil
	}
}

// collectImageTags walks the kernel's ELF notes and fills the image tag
// registry.
func (l *Loader) collectImageTags() *kernel.Error {
	return l.img.VisitNotes(func(name string, noteType uint32, desc []byte) (bool, *kernel.Error) {
		if name != "Initium" {
			return true, nil
		}

		typ := itag.Type(noteType)
		minSize, known := itag.MinSize(typ)
		if !known {
			return false, configErrorf("'%s' has unrecognized image tag type %d", l.path, noteType)
		}
		if uintptr(len(desc)) < minSize {
			return false, configErrorf("'%s' has undersized tag type %d", l.path, noteType)
		}

		// Extra data past the known fields is extensibility payload and
		// must be retained.
		raw := make([]byte, len(desc))
		copy(raw, desc)

		if !l.itags.Add(typ, raw) {
			return false, configErrorf("'%s' has multiple tags of type %d", l.path, noteType)
		}
		return true, nil
	})
}

// addOptions registers every kernel-declared option in the environment,
// keeping any value the user already set if its type matches.
func (l *Loader) addOptions() *kernel.Error {
	for _, tag := range l.itags.All(itag.Option) {
		opt, valid := itag.DecodeOption(tag.Raw)
		if !valid {
			return configErrorf("'%s' has an invalid option tag", l.path)
		}

		if existing, found := l.cfg.Environment.Lookup(opt.Name); found {
			if existing.Type != opt.Type {
				return configErrorf("Invalid value type set for option '%s'", opt.Name)
			}
			continue
		}

		l.cfg.Environment.Insert(opt.Name, Value{Type: opt.Type, Data: opt.Default})
	}
	return nil
}

// addModuleList opens each listed path as a module, in order.
func (l *Loader) addModuleList(paths []string) *kernel.Error {
	for _, path := range paths {
		handle, err := l.cfg.FS.Open(path)
		if err != nil {
			return configErrorf("Error opening module '%s': %s", path, err.Message)
		}

		l.modules = append(l.modules, module{name: baseName(path), handle: handle})
	}
	return nil
}

// addModuleDir loads every regular-file child of path as a module.
func (l *Loader) addModuleDir(path string) *kernel.Error {
	dir, err := l.cfg.FS.Open(path)
	if err != nil {
		return configErrorf("Error opening '%s': %s", path, err.Message)
	}
	defer dir.Close()

	if dir.FileType() != fs.TypeDir {
		return configErrorf("'%s' is not a directory", path)
	}

	var iterErr *kernel.Error
	err = l.cfg.FS.Iterate(dir, func(entry fs.Entry) bool {
		handle, openErr := l.cfg.FS.Open(path + "/" + entry.Name)
		if openErr != nil {
			iterErr = configErrorf("Error opening module '%s': %s", entry.Name, openErr.Message)
			return false
		}
		if handle.FileType() == fs.TypeDir {
			handle.Close()
			return true
		}

		l.modules = append(l.modules, module{name: entry.Name, handle: handle})
		return true
	})
	if err != nil {
		return configErrorf("Error iterating '%s': %s", path, err.Message)
	}
	return iterErr
}

// baseName returns the path component after the last '/'.
func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
