package domain

// DepKind is the relationship a Dependency has to its owning package.
type DepKind string

const (
	DepKindNormal DepKind = "normal"
	DepKindBuild  DepKind = "build"
	DepKindDev    DepKind = "dev"
)

func (k DepKind) String() string { return string(k) }

// Valid reports whether k is one of the recognized dependency kinds.
func (k DepKind) Valid() bool {
	switch k {
	case DepKindNormal, DepKindBuild, DepKindDev:
		return true
	default:
		return false
	}
}

// CredentialMode selects how the index repository manager authenticates
// to the remote git repository. Exactly one mode is active per
// configuration; there is no runtime fallback between modes.
type CredentialMode string

const (
	CredentialModeHTTPSBasic CredentialMode = "https_basic"
	CredentialModeSSHKey     CredentialMode = "ssh_key"
)

func (m CredentialMode) String() string { return string(m) }
