package client

import "time"

// Client is an API consumer allowed to call the scrape endpoints.
type Client struct {
	ID         string
	SecretHash []byte
	Disabled   bool
	CreatedAt  time.Time
	LastSeen   time.Time
}

// Credentials as sent in the X-Client-ID and X-Client-Secret headers.
type Credentials struct {
	ID     string
	Secret string
}
