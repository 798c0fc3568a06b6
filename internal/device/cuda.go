//go:build cuda

package device

import "gorgonia.org/cu"

func probeCUDA() (string, bool) {
	n, err := cu.NumDevices()
	if err != nil || n == 0 {
		return "", false
	}
	name, err := cu.Device(0).Name()
	if err != nil {
		return "cuda:0", true
	}
	return name, true
}
