package model

// CredentialType namespaces a stored username/password pair. Each type is an
// independent keyspace in the secret store.
type CredentialType string

const (
	CredentialHTTPBasicAuth        CredentialType = "HTTP_BASIC_AUTH"
	CredentialCotService           CredentialType = "COT_SERVICE"
	CredentialAPKDownloader        CredentialType = "APK_DOWNLOADER"
	CredentialCATruststorePassword CredentialType = "CA_TRUSTSTORE_PASSWORD"
	CredentialUpdateServerCAPass   CredentialType = "UPDATE_SERVER_CA_PASSWORD"
	CredentialClientCertPassword   CredentialType = "CLIENT_CERT_PASSWORD"
)

// IsCAPassphrase reports whether the credential decrypts a CA truststore, in
// which case changing it changes the trust anchor set.
func (t CredentialType) IsCAPassphrase() bool {
	return t == CredentialCATruststorePassword || t == CredentialUpdateServerCAPass
}

// IsClientCertPassphrase reports whether the credential decrypts a client
// certificate.
func (t CredentialType) IsClientCertPassphrase() bool {
	return t == CredentialClientCertPassword
}

// CertificateType names a certificate slot in the certificate store.
type CertificateType string

const (
	CertificateCATruststore           CertificateType = "CA_TRUSTSTORE"
	CertificateUpdateServerTruststore CertificateType = "UPDATE_SERVER_TRUSTSTORE"
	CertificateClient                 CertificateType = "CLIENT_CERTIFICATE"
)

// IsCAAnchor reports whether certificates of this type contribute trust anchors.
func (t CertificateType) IsCAAnchor() bool {
	return t == CertificateCATruststore || t == CertificateUpdateServerTruststore
}

// PassphraseType returns the credential type holding the passphrase for
// containers of this certificate type.
func (t CertificateType) PassphraseType() CredentialType {
	switch t {
	case CertificateCATruststore:
		return CredentialCATruststorePassword
	case CertificateUpdateServerTruststore:
		return CredentialUpdateServerCAPass
	case CertificateClient:
		return CredentialClientCertPassword
	default:
		return CredentialType(string(t) + "_PASSWORD")
	}
}

// CAAnchorTypes lists every certificate type that feeds the trust anchor set.
func CAAnchorTypes() []CertificateType {
	return []CertificateType{CertificateCATruststore, CertificateUpdateServerTruststore}
}

// CredentialTypes lists every known credential type.
func CredentialTypes() []CredentialType {
	return []CredentialType{
		CredentialHTTPBasicAuth,
		CredentialCotService,
		CredentialAPKDownloader,
		CredentialCATruststorePassword,
		CredentialUpdateServerCAPass,
		CredentialClientCertPassword,
	}
}

// ParseCredentialType returns the credential type named s.
func ParseCredentialType(s string) (CredentialType, bool) {
	for _, t := range CredentialTypes() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// CertificateTypes lists every known certificate type.
func CertificateTypes() []CertificateType {
	return []CertificateType{CertificateCATruststore, CertificateUpdateServerTruststore, CertificateClient}
}

// ParseCertificateType returns the certificate type named s.
func ParseCertificateType(s string) (CertificateType, bool) {
	for _, t := range CertificateTypes() {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}
