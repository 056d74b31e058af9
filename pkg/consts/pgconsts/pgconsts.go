package pgconsts

const (
	// Username is the replication user created during setup.  All capture
	// connections authenticate as this user.
	Username = "pgcap"

	// SlotName is the default logical replication slot consumed by the
	// capture pass when no slot name is configured.
	SlotName = "pgcap_cdc_slot"

	// PublicationName is the default publication watched by the capture
	// pass when no publication name is configured.
	PublicationName = "pgcap_cdc_pub"

	// OutputPlugin is the logical decoding plugin the slot is bound to.
	OutputPlugin = "pgoutput"

	// SoftDeleteColumn is the marker column appended to delete events in
	// place of propagating a hard delete downstream.
	SoftDeleteColumn = "deleted_ts"
)
