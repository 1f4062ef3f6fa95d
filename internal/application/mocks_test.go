package application

import (
	"context"
	"crypto/x509"
	"net/url"
	"sort"
	"sync"

	"github.com/ericfisherdev/trustkit/internal/domain/model"
	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// --- Mock implementations ---

type credKey struct {
	credType model.CredentialType
	site     string
}

// memSecretStore is an in-memory SecretStore.
type memSecretStore struct {
	mu    sync.Mutex
	creds map[credKey]model.Credential
	saves []model.Credential
}

var _ driven.SecretStore = (*memSecretStore)(nil)

func newMemSecretStore() *memSecretStore {
	return &memSecretStore{creds: make(map[credKey]model.Credential)}
}

func (m *memSecretStore) Get(_ context.Context, credType model.CredentialType, site string) (model.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[credKey{credType, site}]
	return c, ok
}

func (m *memSecretStore) GetDefault(ctx context.Context, credType model.CredentialType) (model.Credential, bool) {
	return m.Get(ctx, credType, string(credType))
}

func (m *memSecretStore) Save(_ context.Context, credType model.CredentialType, site, username string, password model.Secret, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := model.Credential{Type: credType, Site: site, Username: username, Password: password, ExpiresAt: model.NeverExpires}
	m.creds[credKey{credType, site}] = c
	m.saves = append(m.saves, c)
	return nil
}

func (m *memSecretStore) Delete(_ context.Context, credType model.CredentialType, site string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, credKey{credType, site})
	return nil
}

func (m *memSecretStore) ListIdentities(_ context.Context) []model.CredentialIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]model.CredentialIdentity, 0, len(m.creds))
	for k := range m.creds {
		ids = append(ids, model.CredentialIdentity{Site: k.site, Type: k.credType})
	}
	return ids
}

func (m *memSecretStore) Close() error { return nil }

func (m *memSecretStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

type certKey struct {
	certType model.CertificateType
	server   string
}

// memCertificateStore is an in-memory CertificateStore.
type memCertificateStore struct {
	mu    sync.Mutex
	certs map[certKey][]byte
}

var _ driven.CertificateStore = (*memCertificateStore)(nil)

func newMemCertificateStore() *memCertificateStore {
	return &memCertificateStore{certs: make(map[certKey][]byte)}
}

func (m *memCertificateStore) Get(ctx context.Context, certType model.CertificateType) ([]byte, bool) {
	return m.GetForServer(ctx, certType, "")
}

func (m *memCertificateStore) GetForServer(_ context.Context, certType model.CertificateType, server string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.certs[certKey{certType, server}]
	return p, ok
}

func (m *memCertificateStore) Save(ctx context.Context, certType model.CertificateType, payload []byte) error {
	return m.SaveForServer(ctx, certType, "", payload)
}

func (m *memCertificateStore) SaveForServer(_ context.Context, certType model.CertificateType, server string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[certKey{certType, server}] = payload
	return nil
}

func (m *memCertificateStore) Delete(ctx context.Context, certType model.CertificateType) error {
	return m.DeleteForServer(ctx, certType, "")
}

func (m *memCertificateStore) DeleteForServer(_ context.Context, certType model.CertificateType, server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.certs, certKey{certType, server})
	return nil
}

func (m *memCertificateStore) ListServers(_ context.Context, certType model.CertificateType) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	servers := []string{}
	for k := range m.certs {
		if k.certType == certType && k.server != "" {
			servers = append(servers, k.server)
		}
	}
	sort.Strings(servers)
	return servers
}

func (m *memCertificateStore) ImportFromFile(_ context.Context, _, _ string, _ model.CertificateType, _ bool) ([]byte, bool) {
	return nil, false
}

func (m *memCertificateStore) CheckValidity(_ []byte, _ model.Secret) model.CertificateValidity {
	return model.CertificateValidity{}
}

func (m *memCertificateStore) Close() error { return nil }

// recordingPolicy answers with fixed decisions and counts consultations.
type recordingPolicy struct {
	mu               sync.Mutex
	systemFallback   bool
	acceptUnanchored bool
	fallbackCalls    int
	unanchoredCalls  int
}

func (p *recordingPolicy) AllowSystemFallback(_ string, _ []*x509.Certificate, _ error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallbackCalls++
	return p.systemFallback
}

func (p *recordingPolicy) AcceptUnanchored(_ string, _ []*x509.Certificate, _ error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unanchoredCalls++
	return p.acceptUnanchored
}

// promptResult is one scripted answer of a scriptedPrompter.
type promptResult struct {
	creds *model.BasicAuth
	err   error
}

// scriptedPrompter answers prompts in order, repeating the last answer once
// the script runs out. onPrompt, when set, runs before each answer.
type scriptedPrompter struct {
	mu       sync.Mutex
	script   []promptResult
	calls    int
	statuses []int
	onPrompt func()
}

func (p *scriptedPrompter) PromptCredentials(_ context.Context, _ *url.URL, previousStatus int) (*model.BasicAuth, error) {
	if p.onPrompt != nil {
		p.onPrompt()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, previousStatus)
	i := min(p.calls, len(p.script)-1)
	p.calls++
	return p.script[i].creds, p.script[i].err
}

func (p *scriptedPrompter) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func basicAuth(user, pass string) *model.BasicAuth {
	return &model.BasicAuth{Username: user, Password: model.Secret(pass)}
}
