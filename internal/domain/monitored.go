package domain

// MonitoredAddress is a real address the activity monitor may subscribe to.
// Corresponds to monitored_addresses table in PostgreSQL.
type MonitoredAddress struct {
	Address            string     // PRIMARY KEY
	Kind               TargetKind // WALLET | TOKEN
	Owner              string     // user id that activated monitoring
	SubscriptionHandle *int64     // present only while actively monitored
	UpdatedAt          int64      // last update timestamp (ms)
}

// Active reports whether the address currently has a live subscription.
func (m *MonitoredAddress) Active() bool {
	return m.SubscriptionHandle != nil
}
