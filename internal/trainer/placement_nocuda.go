//go:build !cuda

package trainer

import "gorgonia.org/gorgonia"

// machineOpts is empty without the cuda tag: graphs run on the CPU.
func (t *Trainer) machineOpts() []gorgonia.VMOpt { return nil }
