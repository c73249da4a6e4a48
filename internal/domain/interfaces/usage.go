package interfaces

import (
	domaintypes "wormhole/internal/domain/types"
)

// UsageRecorder receives a summary for every mailbox the server retires.
type UsageRecorder interface {
	RecordUsage(rec domaintypes.UsageRecord) error
}
