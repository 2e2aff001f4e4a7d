//go:build windows

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Create allocates and maps the named shared region, zero-initialized
// with running=true. It is called by the interceptor lifecycle, never by
// controllers. If the name is already mapped anywhere in the system,
// including by a dead process whose controller never cleaned up, Create
// fails with ErrChannelExists rather than silently attaching to state it
// does not own.
func Create() (*Channel, error) {
	name, err := windows.UTF16PtrFromString(ChannelName)
	if err != nil {
		return nil, fmt.Errorf("channel name: %w", err)
	}

	mapping, err := windows.CreateFileMapping(
		windows.InvalidHandle, nil, windows.PAGE_READWRITE,
		0, ChannelSize, name)
	if err == windows.ERROR_ALREADY_EXISTS {
		windows.CloseHandle(mapping)
		return nil, ErrChannelExists
	}
	if err != nil {
		return nil, fmt.Errorf("create file mapping: %w", err)
	}

	ch, err := mapChannel(mapping)
	if err != nil {
		windows.CloseHandle(mapping)
		return nil, err
	}
	// Fresh mappings are zero pages; only the lifecycle flag needs seeding.
	ch.d.running.Store(1)
	return ch, nil
}

// Open attaches to the hook process's existing region. Controllers call
// this; an absent mapping means the interceptor is not running.
func Open() (*Channel, error) {
	name, err := windows.UTF16PtrFromString(ChannelName)
	if err != nil {
		return nil, fmt.Errorf("channel name: %w", err)
	}

	mapping, err := windows.OpenFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, false, name)
	if err != nil {
		if err == windows.ERROR_FILE_NOT_FOUND {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("open file mapping: %w", err)
	}

	ch, err := mapChannel(mapping)
	if err != nil {
		windows.CloseHandle(mapping)
		return nil, err
	}
	return ch, nil
}

func mapChannel(mapping windows.Handle) (*Channel, error) {
	addr, err := windows.MapViewOfFile(mapping, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, ChannelSize)
	if err != nil {
		return nil, fmt.Errorf("map view of file: %w", err)
	}

	return &Channel{
		d: (*sharedLayout)(unsafe.Pointer(addr)),
		release: func() error {
			unmapErr := windows.UnmapViewOfFile(addr)
			closeErr := windows.CloseHandle(mapping)
			if unmapErr != nil {
				return fmt.Errorf("unmap view of file: %w", unmapErr)
			}
			if closeErr != nil {
				return fmt.Errorf("close mapping handle: %w", closeErr)
			}
			return nil
		},
	}, nil
}
