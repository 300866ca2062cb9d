//go:build !linux

package oracle

// mlock is best-effort; platforms without it just skip the pinning.

func lockMemory(b []byte) error { return nil }

func unlockMemory(b []byte) error { return nil }
