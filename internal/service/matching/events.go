package matching

import (
	"github.com/google/uuid"

	"github.com/hemolink/donor-api/internal/model"
)

type eventKind int

const (
	eventResponse eventKind = iota
	eventCancel
)

// runnerEvent is one unit of work on a runner's serialized queue.
// reply must be buffered so the runner never blocks on a caller that
// gave up.
type runnerEvent struct {
	kind     eventKind
	donorID  uuid.UUID
	response model.DonorResponse
	reply    chan error
}
