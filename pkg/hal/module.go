package hal

import "go.uber.org/fx"

// Module provides the process-wide monotonic clock shared by every
// controller and the array coordinator.
var Module = fx.Module("hal",
	fx.Provide(func() Clock { return NewSystemClock() }),
)
