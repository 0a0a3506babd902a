// target.go - target architecture table for the ELF header fields
package relf

import (
	"debug/elf"
	"fmt"
	"strings"
)

// TargetArch identifies a code generation target.
type TargetArch int

const (
	TargetX8632 TargetArch = iota
	TargetX8664
	TargetARM32
	TargetAArch64
	TargetRiscv64
	targetArchNum
)

func (a TargetArch) String() string {
	switch a {
	case TargetX8632:
		return "x86_32"
	case TargetX8664:
		return "x86_64"
	case TargetARM32:
		return "arm32"
	case TargetAArch64:
		return "aarch64"
	case TargetRiscv64:
		return "riscv64"
	default:
		return "unknown"
	}
}

// ParseArch parses an architecture string (like GOARCH values)
func ParseArch(s string) (TargetArch, error) {
	switch strings.ToLower(s) {
	case "x86", "386", "i386", "x86_32", "x86-32":
		return TargetX8632, nil
	case "x86_64", "amd64", "x86-64":
		return TargetX8664, nil
	case "arm", "arm32":
		return TargetARM32, nil
	case "aarch64", "arm64":
		return TargetAArch64, nil
	case "riscv64", "riscv", "rv64":
		return TargetRiscv64, nil
	default:
		return 0, fmt.Errorf("unsupported architecture: %s (supported: 386, amd64, arm, arm64, riscv64)", s)
	}
}

// targetInfo holds the ELF header fields that depend on the target.
type targetInfo struct {
	is64    bool
	machine elf.Machine
	flags   uint32
}

const (
	armEABIVer5         = 0x05000000 // EF_ARM_EABI_VER5
	riscvRVC            = 0x1        // EF_RISCV_RVC
	riscvFloatABIDouble = 0x4        // EF_RISCV_FLOAT_ABI_DOUBLE
)

var targetTable = [targetArchNum]targetInfo{
	TargetX8632:   {false, elf.EM_386, 0},
	TargetX8664:   {true, elf.EM_X86_64, 0},
	TargetARM32:   {false, elf.EM_ARM, armEABIVer5},
	TargetAArch64: {true, elf.EM_AARCH64, 0},
	TargetRiscv64: {true, elf.EM_RISCV, riscvRVC | riscvFloatABIDouble},
}

func (a TargetArch) info() targetInfo {
	if a < 0 || a >= targetArchNum {
		panic(fmt.Sprintf("relf: invalid target architecture tag %d", int(a)))
	}
	return targetTable[a]
}

// Is64 reports whether the target uses the 64-bit ELF class.
func (a TargetArch) Is64() bool {
	return a.info().is64
}

// Machine returns the e_machine value for the target.
func (a TargetArch) Machine() elf.Machine {
	return a.info().machine
}

// Flags returns the e_flags word for the target.
func (a TargetArch) Flags() uint32 {
	return a.info().flags
}
