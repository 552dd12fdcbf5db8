package app

import (
	"time"

	"github.com/vk/migwave/internal/registry"
	"github.com/vk/migwave/modules/httpcheck"
	"github.com/vk/migwave/modules/simulated"
)

// coreModules lists the executor modules compiled into the migwave binary.
func coreModules(stageDelay time.Duration) []registry.Module {
	return []registry.Module{
		&simulated.Module{StageDelay: stageDelay},
		&httpcheck.Module{StageDelay: stageDelay},
	}
}
