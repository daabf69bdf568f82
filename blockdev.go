package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/moby/sys/mountinfo"
)

const sysDevBlock = "/sys/dev/block"

// BlockDevice is a Linux block device identified by major:minor numbers.
type BlockDevice struct {
	major uint64
	minor uint64
	name  string
}

// BlockDeviceFromMajorMinor resolves a major:minor pair through sysfs.
func BlockDeviceFromMajorMinor(major, minor uint64) (*BlockDevice, error) {
	link := filepath.Join(sysDevBlock, fmt.Sprintf("%d:%d", major, minor))
	target, err := os.Readlink(link)
	if err != nil {
		return nil, fmt.Errorf("failed to read device link %s: %w", link, err)
	}
	name := filepath.Base(target)
	if name == ".." || name == "." || name == "/" {
		return nil, fmt.Errorf("device link %s has no usable target name", link)
	}
	return &BlockDevice{major: major, minor: minor, name: name}, nil
}

// RootBlockDevice finds the block device backing the filesystem mounted at
// mountpoint (normally "/") via the mount table.
func RootBlockDevice(mountpoint string) (*BlockDevice, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(mountpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	if len(mounts) == 0 {
		return nil, fmt.Errorf("no mount entry for %s", mountpoint)
	}
	m := mounts[0]
	return BlockDeviceFromMajorMinor(uint64(m.Major), uint64(m.Minor))
}

// blockDeviceFromSysFile parses the "major:minor" contents of a sysfs dev
// file and resolves the device.
func blockDeviceFromSysFile(path string) (*BlockDevice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(raw)), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("cannot parse %s as major:minor", path)
	}
	major, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse major number in %s: %w", path, err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse minor number in %s: %w", path, err)
	}
	return BlockDeviceFromMajorMinor(major, minor)
}

func (b *BlockDevice) sysPath() string {
	return filepath.Join(sysDevBlock, fmt.Sprintf("%d:%d", b.major, b.minor))
}

// Path returns the device node path under /dev.
func (b *BlockDevice) Path() string {
	return filepath.Join("/dev", b.name)
}

func (b *BlockDevice) String() string {
	return b.name
}

// Equal compares devices by major:minor.
func (b *BlockDevice) Equal(other *BlockDevice) bool {
	return b.major == other.major && b.minor == other.minor
}

// Disk returns the whole disk this partition belongs to, or nil if the
// device is not a partition.
func (b *BlockDevice) Disk() (*BlockDevice, error) {
	entries, err := os.ReadDir("/sys/block")
	if err != nil {
		return nil, fmt.Errorf("failed to list /sys/block: %w", err)
	}
	for _, entry := range entries {
		diskDir := filepath.Join("/sys/block", entry.Name())
		if _, err := os.Stat(filepath.Join(diskDir, b.name)); err == nil {
			return blockDeviceFromSysFile(filepath.Join(diskDir, "dev"))
		}
	}
	return nil, nil
}

// Partition returns partition number partNum of this disk, or nil if the
// disk has no such partition.
func (b *BlockDevice) Partition(partNum uint32) (*BlockDevice, error) {
	sysPath := b.sysPath()
	entries, err := os.ReadDir(sysPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", sysPath, err)
	}
	want := strconv.FormatUint(uint64(partNum), 10)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		partFile := filepath.Join(sysPath, entry.Name(), "partition")
		raw, err := os.ReadFile(partFile)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", partFile, err)
		}
		if strings.TrimSpace(string(raw)) == want {
			return blockDeviceFromSysFile(filepath.Join(sysPath, entry.Name(), "dev"))
		}
	}
	return nil, nil
}

// LowerDevices lists the devices stacked below this one, e.g. the data and
// hash devices backing a dm-verity device. Returns an empty slice when the
// device has no lower devices.
func (b *BlockDevice) LowerDevices() ([]*BlockDevice, error) {
	slavesDir := filepath.Join(b.sysPath(), "slaves")
	entries, err := os.ReadDir(slavesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", slavesDir, err)
	}
	var lower []*BlockDevice
	for _, entry := range entries {
		dev, err := blockDeviceFromSysFile(filepath.Join(slavesDir, entry.Name(), "dev"))
		if err != nil {
			return nil, err
		}
		lower = append(lower, dev)
	}
	return lower, nil
}
