package driven

import (
	"context"
	"net/url"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
)

// CredentialPrompter obtains Basic-Auth credentials on demand, typically from
// the user. Implementations may block for as long as user input takes.
type CredentialPrompter interface {
	// PromptCredentials asks for credentials for target after the server
	// answered with previousStatus. A nil result with a nil error means the
	// prompt was declined.
	PromptCredentials(ctx context.Context, target *url.URL, previousStatus int) (*model.BasicAuth, error)
}

// DeviceIDProvider supplies the stable device identifier mixed into store
// passphrases.
type DeviceIDProvider interface {
	DeviceID(ctx context.Context) (string, error)
}
