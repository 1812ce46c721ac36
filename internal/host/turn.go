package host

import "context"

// StaticTURNProvider hands out a fixed set of relay credentials from
// configuration. It satisfies TURNCredentialProvider for deployments without
// a credential-minting service.
type StaticTURNProvider struct {
	creds TURNCredentials
}

// NewStaticTURNProvider wraps fixed credentials in a provider.
func NewStaticTURNProvider(creds TURNCredentials) *StaticTURNProvider {
	return &StaticTURNProvider{creds: creds}
}

// TURNCredentials returns a copy of the configured credentials.
func (p *StaticTURNProvider) TURNCredentials(_ context.Context) (*TURNCredentials, error) {
	out := p.creds
	out.URIs = append([]string(nil), p.creds.URIs...)
	return &out, nil
}
