package forestfake

import (
	"time"

	"github.com/MarkoPoloResearchLab/qcs/pkg/qcs"
)

// Fixture seeds the fake service state.
type Fixture struct {
	Credits      qcs.Credits
	Lattices     []qcs.Lattice
	Devices      []qcs.Device
	Reservations []qcs.Reservation
	QMIs         []qcs.QMI
	// SlotSpacing separates consecutive candidate slots when several lattices match.
	SlotSpacing time.Duration
}

// DefaultFixture mirrors the data the client tests expect.
func DefaultFixture() Fixture {
	return Fixture{
		Credits: qcs.Credits{
			CurrentBalance:  1000,
			SubmittedUsage:  100,
			PendingBalance:  900,
			UpcomingUsage:   100,
			AvailableCredit: 800,
		},
		Lattices: []qcs.Lattice{
			{LatticeName: "test-lattice", DeviceName: "test-device", Qubits: map[string]int{"0": 0, "1": 1}, PricePerMinute: 10},
		},
		Devices: []qcs.Device{
			{DeviceName: "test-device", NumQubits: 16, Category: "test-category"},
		},
		SlotSpacing: time.Hour,
	}
}
