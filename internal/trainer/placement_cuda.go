//go:build cuda

package trainer

import (
	"gorgonia.org/gorgonia"

	"chromaframe/internal/device"
)

// machineOpts places compiled graphs on the resolved device.
func (t *Trainer) machineOpts() []gorgonia.VMOpt {
	if t.device.Type == device.CUDA {
		return []gorgonia.VMOpt{gorgonia.UseCudaFor()}
	}
	return nil
}
