package redis

// Key prefixes for primary entity storage.
const (
	prefixEventType    = "hookline:evtype:" // + name
	prefixSubscription = "hookline:sub:"    // + subscription ID
	prefixAttempt      = "hookline:att:"    // + attempt ID
)

// Key prefixes for indexes.
const (
	sEventTypeAll = "hookline:s:evtype:all"

	zSubTenant = "hookline:z:sub:tenant:" // + tenant ID
	sSubRoute  = "hookline:s:sub:route:"  // + tenant ID + ":" + event type

	zAttemptAll    = "hookline:z:att:all"
	zAttemptTenant = "hookline:z:att:tenant:" // + tenant ID
	zAttemptSub    = "hookline:z:att:sub:"    // + subscription ID
	zAttemptStatus = "hookline:z:att:status:" // + tenant ID + ":" + status

	// prefixAttemptTmp names the short-lived intersections ListAttempts
	// builds to page one subscription's attempts by status.
	prefixAttemptTmp = "hookline:tmp:att:"

	// zAttemptDue holds every non-terminal attempt scored by the unix
	// millisecond at which a sweep may pick it up.
	zAttemptDue = "hookline:z:att:due"

	// zAttemptLease scores leased attempts by lease expiry; hAttemptOwner
	// names the holder.
	zAttemptLease = "hookline:z:att:lease"
	hAttemptOwner = "hookline:h:att:owner"
)

// allTenants keys the status sets spanning every tenant.
const allTenants = "*"

// farFuture scores non-terminal attempts that have no retry time.
const farFuture = 253402300799000 // 9999-12-31T23:59:59Z in ms

func entityKey(prefix, id string) string {
	return prefix + id
}

func routeKey(tenantID, eventType string) string {
	return sSubRoute + tenantID + ":" + eventType
}

func statusKey(tenantID, status string) string {
	return zAttemptStatus + tenantID + ":" + status
}
