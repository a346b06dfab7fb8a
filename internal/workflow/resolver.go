package workflow

import "github.com/pitabwire/ruzuku/model"

// CurrentSeat resolves which seat, if any, holds the turn in the chain. The
// answer is derived purely from seat state so it can never disagree with the
// rest of the graph:
//
//   - Replaced seats are skipped entirely.
//   - The first remaining seat, in chain order, whose status is not
//     completed and not missed is the candidate.
//   - A returned candidate blocks the chain but is not the current seat;
//     the requester must respond before it re-arms.
//
// Returns nil when the chain is exhausted or blocked.
func CurrentSeat(g *Graph) *model.Seat {
	for i := range g.Seats {
		seat := &g.Seats[i]
		if seat.Status == model.SeatStatusReplaced {
			continue
		}
		if seat.Status == model.SeatStatusCompleted || seat.Status == model.SeatStatusMissed {
			continue
		}
		if seat.Status == model.SeatStatusReturned {
			return nil
		}
		return seat
	}
	return nil
}

// ChainExhausted reports whether every non-replaced seat has reached a
// terminal status.
func ChainExhausted(g *Graph) bool {
	for i := range g.Seats {
		seat := &g.Seats[i]
		if seat.Status == model.SeatStatusReplaced {
			continue
		}
		if !seat.Status.Terminal() {
			return false
		}
	}
	return true
}
