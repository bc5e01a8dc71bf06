package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExternalRecipient describes the destination of a movement that leaves the
// bank: another institution's account or a registered bill payee.
type ExternalRecipient struct {
	Name          string
	AccountNumber string
	RoutingNumber string
	BankName      string
}

// Submission is handed to the network connector for an outbound transfer.
type Submission struct {
	Recipient ExternalRecipient
	Amount    int64
	Currency  string
	Tier      Tier
	Reference string
}

// Receipt is the connector's acknowledgement of an accepted submission.
type Receipt struct {
	NetworkReference string
	EstimatedArrival time.Time
}

// Connector represents the interbank network used for external transfers
// and bill payments.
type Connector interface {
	Submit(ctx context.Context, sub Submission) (Receipt, error)
}

// NetworkError reports a failed handoff to the interbank network. The unit
// of work was aborted, so no local state was written.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network submission failed: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// StaticConnector simulates a network that accepts every submission.
type StaticConnector struct{}

// Submit acknowledges the submission with a synthetic network reference and
// an arrival estimate derived from the tier.
func (StaticConnector) Submit(_ context.Context, sub Submission) (Receipt, error) {
	now := time.Now().UTC()
	var arrival time.Time
	switch sub.Tier {
	case TierInstant:
		arrival = now.Add(5 * time.Minute)
	case TierExpress:
		arrival = now.Add(2 * time.Hour)
	default:
		arrival = now.Add(24 * time.Hour)
	}
	return Receipt{NetworkReference: uuid.NewString(), EstimatedArrival: arrival}, nil
}
