package events

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

const (
	EdgeCreatedEvent = "edge.created"
	EdgeUpdatedEvent = "edge.updated"
	EdgeDeletedEvent = "edge.deleted"
)

// AllEdgeEvents lists every ledger event type
var AllEdgeEvents = []string{EdgeCreatedEvent, EdgeUpdatedEvent, EdgeDeletedEvent}

type EdgeCreated struct {
	Edge entities.AllocationEdge `json:"edge"`
}

type EdgeUpdated struct {
	Edge        entities.AllocationEdge `json:"edge"`
	OldQuantity decimal.Decimal         `json:"old_quantity"`
	OldAffected bool                    `json:"old_affected"`
}

type EdgeDeleted struct {
	Edge entities.AllocationEdge `json:"edge"`
}

// EdgeStream names the stream of events of one owner
func EdgeStream(edge *entities.AllocationEdge) string {
	return fmt.Sprintf("%s/%s", edge.Mode, edge.Owner)
}
