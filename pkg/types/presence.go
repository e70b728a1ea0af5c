package types

// PresenceStatus is the availability of a participant device.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusAway    PresenceStatus = "away"
)

// PresenceRecord tracks one (actor, device) pair. Records are upserted via
// log events; going away is a status transition, never a deletion.
type PresenceRecord struct {
	ActorID    string         `json:"actorID"`
	DeviceID   string         `json:"deviceID"`
	ActorType  ActorType      `json:"actorType"`
	Name       string         `json:"name,omitempty"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt int64          `json:"lastSeenAt"`
}

// Key returns the composite map key for this record.
func (p *PresenceRecord) Key() string {
	return p.ActorID + "/" + p.DeviceID
}
