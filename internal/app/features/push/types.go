package push

import (
	"encoding/json"
	"fmt"
)

// Notification display defaults.
const (
	// DefaultImage is the hero image shown when the payload carries
	// none.
	DefaultImage = "/images/promo-banner.png"

	// ActionView opens the notification's target URL.
	ActionView = "view"
	// ActionDismiss closes the notification without opening anything.
	// A bare click on the notification body arrives as an empty action
	// and is treated the same way.
	ActionDismiss = "dismiss"
)

// DefaultVibration is the vibration pattern attached to every
// notification.
var DefaultVibration = []int{200, 100, 200}

// DefaultActions are the two buttons attached to every notification.
var DefaultActions = []string{ActionView, ActionDismiss}

// FlexID is an identifier the push producer may send as either a JSON
// string or a number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty id")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// Payload is the JSON body delivered by the backend push service.
type Payload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ImageURL       string `json:"imageUrl"`
	Path           string `json:"path"`
	SubscriberID   FlexID `json:"subscriberId"`
	NotificationID FlexID `json:"notificationId"`
	Data           struct {
		ActionURL string `json:"actionUrl"`
	} `json:"data"`
}

// TargetURL resolves where a view action should land: the data
// envelope's actionUrl wins, then the top-level path, then the
// storefront root.
func (p Payload) TargetURL() string {
	if p.Data.ActionURL != "" {
		return p.Data.ActionURL
	}
	if p.Path != "" {
		return p.Path
	}
	return "/"
}

// Image resolves the hero image, falling back to the promo banner.
func (p Payload) Image() string {
	if p.ImageURL != "" {
		return p.ImageURL
	}
	return DefaultImage
}
