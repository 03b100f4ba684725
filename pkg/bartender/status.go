package bartender

import (
	"fmt"
	"strings"
)

// Status strings returned per sub-request. The vocabularies are fixed
// per operation; clients match on them.
const (
	// Creation (putFile, makeCollection)
	StatusDone               = "done"
	StatusLNExists           = "LN exists"
	StatusParentDoesNotExist = "parent does not exist"
	StatusFailedNewEntry     = "failed to create new librarian entry"
	StatusGUIDExists         = "GUID exists"
	StatusFailedLinkChild    = "failed to add child to parent"

	// Placement (putFile, addReplica, getFile)
	StatusNoShepherd     = "no shepherd found"
	StatusNoValidReplica = "file has no valid replica"

	// delFile
	StatusDeleted = "deleted"

	// move (and delFile's nosuchLN)
	StatusMoved               = "moved"
	StatusNosuchLN            = "nosuchLN"
	StatusTargetExists        = "targetexists"
	StatusInvalidTarget       = "invalidtarget"
	StatusFailedAddingChild   = "failed adding child to parent"
	StatusFailedRemovingChild = "failed removing child from parent"

	// unmakeCollection, modify
	StatusNoSuchLN           = "no such LN"
	StatusNotACollection     = "not a collection"
	StatusCollectionNotEmpty = "collection is not empty"
	StatusRemoved            = "removed"

	// list, getFile, addReplica
	StatusFound      = "found"
	StatusIsAFile    = "is a file"
	StatusNotFound   = "not found"
	StatusIsNotAFile = "is not a file"

	// Every operation
	StatusDenied        = "denied"
	StatusInternalError = "failed: internal error"
)

func missingMetadata(field string) string {
	return "missing metadata: " + field
}

func putError(err error) string {
	return fmt.Sprintf("put error: %v", err)
}

func turlError(err error) string {
	return fmt.Sprintf("error while getting TURL (%v)", err)
}

// failed turns an unexpected upstream status into a failure status.
func failed(reason string) string {
	if strings.HasPrefix(reason, "failed") {
		return reason
	}
	return "failed: " + reason
}

func upstreamFailure(err error) string {
	return failed(err.Error())
}
