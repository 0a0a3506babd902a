// relfgen emits a small demonstration relocatable object file: two
// functions linked by a call fixup plus float and double constant pools.
// Useful for poking the writer with readelf/objdump on any supported arch.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/go-kit/log"
	"github.com/xyproto/env/v2"

	"github.com/xyproto/relf"
)

const versionString = "relfgen 1.0.0"

func defaultArch() string {
	switch runtime.GOARCH {
	case "386", "arm", "arm64", "riscv64":
		return runtime.GOARCH
	default:
		return "amd64"
	}
}

// demoFunctions returns a "main" that calls an internal "helper", with the
// call site recorded as a fixup in the arch's preferred call relocation.
func demoFunctions(arch relf.TargetArch) (mainFn, helperFn *relf.CodeBuffer) {
	mainFn = relf.NewCodeBuffer()
	helperFn = relf.NewCodeBuffer()
	switch arch {
	case relf.TargetX8664:
		mainFn.Emit(0xe8, 0, 0, 0, 0) // call rel32
		mainFn.AddFixup(1, uint32(elf.R_X86_64_PLT32), "helper", -4)
		mainFn.Emit(0xc3) // ret
		helperFn.Emit(0xc3)
	case relf.TargetX8632:
		mainFn.Emit(0xe8, 0, 0, 0, 0)
		mainFn.AddFixup(1, uint32(elf.R_386_PC32), "helper", 0)
		mainFn.Emit(0xc3)
		helperFn.Emit(0xc3)
	case relf.TargetARM32:
		mainFn.Emit(0x00, 0x00, 0x00, 0xeb) // bl
		mainFn.AddFixup(0, uint32(elf.R_ARM_CALL), "helper", 0)
		mainFn.Emit(0x1e, 0xff, 0x2f, 0xe1) // bx lr
		helperFn.Emit(0x1e, 0xff, 0x2f, 0xe1)
	case relf.TargetAArch64:
		mainFn.Emit(0x00, 0x00, 0x00, 0x94) // bl
		mainFn.AddFixup(0, uint32(elf.R_AARCH64_CALL26), "helper", 0)
		mainFn.Emit(0xc0, 0x03, 0x5f, 0xd6) // ret
		helperFn.Emit(0xc0, 0x03, 0x5f, 0xd6)
	case relf.TargetRiscv64:
		mainFn.Emit(0x97, 0x00, 0x00, 0x00) // auipc ra
		mainFn.Emit(0xe7, 0x80, 0x00, 0x00) // jalr ra
		mainFn.AddFixup(0, uint32(elf.R_RISCV_CALL_PLT), "helper", 0)
		mainFn.Emit(0x67, 0x80, 0x00, 0x00) // ret
		helperFn.Emit(0x67, 0x80, 0x00, 0x00)
	}
	return mainFn, helperFn
}

func run(archStr, outputPath string, logger log.Logger) error {
	arch, err := relf.ParseArch(archStr)
	if err != nil {
		return err
	}

	str, err := relf.Create(outputPath)
	if err != nil {
		return err
	}

	w := relf.NewWriter(arch, str, logger)
	if err := w.WriteInitialELFHeader(); err != nil {
		return err
	}

	mainFn, helperFn := demoFunctions(arch)
	if err := w.WriteFunctionCode("main", false, mainFn); err != nil {
		return err
	}
	if err := w.WriteFunctionCode("helper", true, helperFn); err != nil {
		return err
	}

	floats := relf.NewConstantPool(relf.Float32)
	floats.AddFloat32(1.5)
	floats.AddFloat32(2.5)
	if err := w.WriteConstantPool(floats); err != nil {
		return err
	}

	doubles := relf.NewConstantPool(relf.Float64)
	doubles.AddFloat64(3.141592653589793)
	if err := w.WriteConstantPool(doubles); err != nil {
		return err
	}

	if err := w.WriteNonUserSections(); err != nil {
		return err
	}
	return str.Close()
}

func main() {
	var archFlag = flag.String("arch", env.Str("RELFGEN_ARCH", defaultArch()), "target architecture (386, amd64, arm, arm64, riscv64)")
	var outputFlag = flag.String("o", env.Str("RELFGEN_OUTPUT", "demo.o"), "output object filename")
	var verbose = flag.Bool("v", env.Bool("RELFGEN_VERBOSE"), "verbose mode (trace writer activity)")
	var version = flag.Bool("V", false, "print version information and exit")
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	var logger log.Logger
	if *verbose {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}

	if err := run(*archFlag, *outputFlag, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "-> Wrote object file: %s\n", *outputFlag)
	}
}
