package wire

import (
	"github.com/cposnet/peer/pkg/cell"
	"github.com/cposnet/peer/pkg/consensus"
	"github.com/cposnet/peer/pkg/state"
)

// Kind is one of the message kinds spec.md §6 distinguishes by the first
// cell's tag.
type Kind int

const (
	KindUnknown Kind = iota
	KindBelief
	KindSignedOrder
	KindTransaction
	KindQuery
	KindResult
	KindStatus
	KindChallenge
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindBelief:
		return "belief"
	case KindSignedOrder:
		return "signed-order"
	case KindTransaction:
		return "transaction"
	case KindQuery:
		return "query"
	case KindResult:
		return "result"
	case KindStatus:
		return "status"
	case KindChallenge:
		return "challenge"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Classify identifies a decoded top cell's message kind. SignedOrder and
// Transaction share pkg/cell's generic SignedData wrapper, so
// telling them apart requires resolving the payload and inspecting its own
// tag — everything else is unambiguous from the top cell's type alone.
func Classify(c cell.Cell, res cell.Resolver) (Kind, error) {
	switch v := c.(type) {
	case *consensus.Belief:
		return KindBelief, nil
	case *cell.SignedData:
		payload, err := v.Payload.Resolve(res)
		if err != nil {
			return KindUnknown, err
		}
		switch payload.(type) {
		case *consensus.Order:
			return KindSignedOrder, nil
		case state.Transaction:
			return KindTransaction, nil
		default:
			return KindUnknown, &cell.InvalidDataError{Reason: "signed payload is neither an order nor a transaction"}
		}
	case *Query:
		return KindQuery, nil
	case *state.Result:
		return KindResult, nil
	case *StatusVector:
		return KindStatus, nil
	case *Challenge:
		return KindChallenge, nil
	case *Response:
		return KindResponse, nil
	default:
		return KindUnknown, nil
	}
}
