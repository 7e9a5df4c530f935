// Package assign chooses a seat for an arriving occupant.
package assign

import "seatboard/pkg/types"

// None is returned when no seat is available. It is distinct from every
// valid seat number and from the "no preference" input 0.
const None = -1

// View is the read-only seat state the resolver works on.
type View interface {
	Capacity() int
	Occupant(seat int) types.Occupant
}

// Resolve returns preferred when it is a seat in range and currently empty,
// otherwise the lowest numbered empty seat, otherwise None.
// Zero, negative and out of range preferences all mean "no preference".
func Resolve(v View, preferred int) int {
	capacity := v.Capacity()

	if preferred >= 1 && preferred <= capacity && v.Occupant(preferred).IsEmpty() {
		return preferred
	}

	for seat := 1; seat <= capacity; seat++ {
		if v.Occupant(seat).IsEmpty() {
			return seat
		}
	}
	return None
}
