package order

import "github.com/xenking/agrimarket/internal/domain/apperr"

// Action is an operation a user performs on an existing order.
type Action string

const (
	ActionView     Action = "view"
	ActionCancel   Action = "cancel"
	ActionConfirm  Action = "confirm"
	ActionProcess  Action = "process"
	ActionShip     Action = "ship"
	ActionDeliver  Action = "deliver"
	ActionComplete Action = "complete"
	ActionRefund   Action = "refund"
)

var (
	// ErrNotParty is returned when the actor is neither buyer nor seller.
	ErrNotParty = apperr.New(apperr.Forbidden, "not a party to this order")
	// ErrSellerOnly is returned when a buyer attempts a seller action.
	ErrSellerOnly = apperr.New(apperr.Forbidden, "only the seller can perform this action")
)

// Authorize decides whether actor may perform action on o.
func Authorize(action Action, actor string, o *Order) error {
	switch action {
	case ActionConfirm, ActionProcess, ActionShip, ActionDeliver, ActionRefund:
		if actor == "" || actor != o.SellerID {
			if o.IsParty(actor) {
				return ErrSellerOnly
			}
			return ErrNotParty
		}
		return nil
	default:
		if !o.IsParty(actor) {
			return ErrNotParty
		}
		return nil
	}
}
