// Copyright (C) 2022 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// Host resources relevant for sizing filter runs
type SysInfo struct {
	CPU       string `json:"cpu"`
	Cores     int    `json:"cores"`
	Threads   int    `json:"threads"`
	MaxProcs  int    `json:"maxProcs"`
	AVX2      bool   `json:"avx2"`
	MemoryMB  int    `json:"memoryMB"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func GetSysInfo() SysInfo {
	return SysInfo{
		CPU:       cpuid.CPU.BrandName,
		Cores:     cpuid.CPU.PhysicalCores,
		Threads:   cpuid.CPU.LogicalCores,
		MaxProcs:  runtime.GOMAXPROCS(0),
		AVX2:      cpuid.CPU.AVX2(),
		MemoryMB:  int(memory.TotalMemory() / 1024 / 1024),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func (s SysInfo) String() string {
	cpu := s.CPU
	if cpu == "" {
		cpu = "unknown CPU"
	}
	return fmt.Sprintf("%s with %d cores, %d threads, AVX2 %v, using %d threads. Physical memory is %d MB. %s %s/%s",
		cpu, s.Cores, s.Threads, s.AVX2, s.MaxProcs, s.MemoryMB, s.GoVersion, s.OS, s.Arch)
}
