package ids

import "time"

// SetNow overrides the Minter clock for tests.
func (m *Minter) SetNow(now func() time.Time) {
	m.now = now
}
