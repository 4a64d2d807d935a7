// Package device models the local device's push identity: the details sent
// to the registration API, the platform registration token, and the
// server-issued update token.
package device

// TokenType identifies the push delivery network that issued a
// registration token.
type TokenType string

const (
	TokenFCM  TokenType = "fcm"
	TokenGCM  TokenType = "gcm"
	TokenAPNS TokenType = "apns"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	switch t {
	case TokenFCM, TokenGCM, TokenAPNS:
		return true
	}
	return false
}

// RegistrationToken is the platform-issued token identifying the device to
// its push delivery network.
type RegistrationToken struct {
	Type  TokenType `json:"type"`
	Token string    `json:"token"`
}

// Recipient returns the push recipient descriptor for the token.
func (t RegistrationToken) Recipient() map[string]string {
	if t.Type == TokenAPNS {
		return map[string]string{
			"transportType": string(t.Type),
			"deviceToken":   t.Token,
		}
	}
	return map[string]string{
		"transportType":     string(t.Type),
		"registrationToken": t.Token,
	}
}

// Details is the device record exchanged with the registration API.
type Details struct {
	ID          string            `json:"id"`
	Platform    string            `json:"platform"`
	FormFactor  string            `json:"formFactor"`
	ClientID    string            `json:"clientId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UpdateToken string            `json:"updateToken,omitempty"`
	Push        *Push             `json:"push,omitempty"`
}

// Push holds the push section of a device record.
type Push struct {
	Recipient map[string]string `json:"recipient,omitempty"`
	State     string            `json:"state,omitempty"`
}

// Registered reports whether the device holds an update token.
func (d Details) Registered() bool {
	return d.UpdateToken != ""
}

// RecipientUpdate is the PATCH body that refreshes only the push recipient.
type RecipientUpdate struct {
	Push Push `json:"push"`
}

// RecipientUpdate builds the body for a registration update.
func (d Details) RecipientUpdate() RecipientUpdate {
	var recipient map[string]string
	if d.Push != nil {
		recipient = d.Push.Recipient
	}
	return RecipientUpdate{Push: Push{Recipient: recipient}}
}
