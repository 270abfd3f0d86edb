package mailbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailbot/internal/errors"
)

// itemRef identifies a message within a mailbox. UIDs are only stable for a
// given UIDVALIDITY, so it is part of the id.
type itemRef struct {
	Folder      string
	UidValidity uint32
	Uid         uint32
}

func (r itemRef) String() string {
	return fmt.Sprintf("%s/%d/%d", r.Folder, r.UidValidity, r.Uid)
}

// parseItemID splits from the right, folder names may contain "/".
func parseItemID(id string) (itemRef, error) {
	uidIdx := strings.LastIndex(id, "/")
	if uidIdx <= 0 {
		return itemRef{}, errors.Wrap(mailerrors.ErrInvalidMailItemID, id)
	}
	validityIdx := strings.LastIndex(id[:uidIdx], "/")
	if validityIdx <= 0 {
		return itemRef{}, errors.Wrap(mailerrors.ErrInvalidMailItemID, id)
	}

	uid, err := strconv.ParseUint(id[uidIdx+1:], 10, 32)
	if err != nil || uid == 0 {
		return itemRef{}, errors.Wrap(mailerrors.ErrInvalidMailItemID, id)
	}
	validity, err := strconv.ParseUint(id[validityIdx+1:uidIdx], 10, 32)
	if err != nil {
		return itemRef{}, errors.Wrap(mailerrors.ErrInvalidMailItemID, id)
	}

	return itemRef{Folder: id[:validityIdx], UidValidity: uint32(validity), Uid: uint32(uid)}, nil
}
