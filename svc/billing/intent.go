package billing

import (
	"fmt"

	"github.com/google/uuid"
)

// IntentKind tags what a checkout session should do when it completes.
type IntentKind string

const (
	IntentNewClub IntentKind = "new"
	IntentTrial   IntentKind = "trial"
	IntentUpgrade IntentKind = "upgrade"
)

// Intent is the fulfillment intent attached to a checkout session. It
// round-trips through the processor as string metadata and must survive both
// notification paths unmodified, so the encoding is deliberately flat.
type Intent struct {
	Kind     IntentKind
	UserID   uuid.UUID
	ClubName string    // set for new-club and trial intents
	ClubID   uuid.UUID // set for upgrade intents
}

// Metadata keys. Stripe metadata values are strings; uuids travel in their
// canonical text form.
const (
	metaIntent   = "intent"
	metaUserID   = "user_id"
	metaClubName = "club_name"
	metaClubID   = "club_id"
)

// Metadata encodes the intent for attachment to a checkout session.
func (i Intent) Metadata() map[string]string {
	md := map[string]string{
		metaIntent: string(i.Kind),
		metaUserID: i.UserID.String(),
	}
	switch i.Kind {
	case IntentNewClub, IntentTrial:
		md[metaClubName] = i.ClubName
	case IntentUpgrade:
		md[metaClubID] = i.ClubID.String()
	}
	return md
}

// ParseIntent decodes and validates intent metadata. Every field each kind
// requires must be present and well-formed; anything else is rejected so a
// session with tampered or truncated metadata never reaches the store.
func ParseIntent(md map[string]string) (Intent, error) {
	kind := IntentKind(md[metaIntent])

	userID, err := uuid.Parse(md[metaUserID])
	if err != nil {
		return Intent{}, fmt.Errorf("%w: user id: %v", ErrInvalidIntent, err)
	}

	switch kind {
	case IntentNewClub, IntentTrial:
		name := md[metaClubName]
		if name == "" {
			return Intent{}, fmt.Errorf("%w: missing club name", ErrInvalidIntent)
		}
		return Intent{Kind: kind, UserID: userID, ClubName: name}, nil

	case IntentUpgrade:
		clubID, err := uuid.Parse(md[metaClubID])
		if err != nil {
			return Intent{}, fmt.Errorf("%w: club id: %v", ErrInvalidIntent, err)
		}
		return Intent{Kind: kind, UserID: userID, ClubID: clubID}, nil

	default:
		return Intent{}, fmt.Errorf("%w: unknown intent %q", ErrInvalidIntent, md[metaIntent])
	}
}
