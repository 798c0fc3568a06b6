//go:build !cuda

package device

func probeCUDA() (string, bool) { return "", false }
