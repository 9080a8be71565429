package ledger

import "github.com/jwalitptl/health-ledger/internal/model"

// PermissionMatrix holds directed consent edges from patients to providers.
// A missing edge reads as false.
type PermissionMatrix struct {
	edges map[model.Principal]map[model.Principal]bool
}

func NewPermissionMatrix() *PermissionMatrix {
	return &PermissionMatrix{edges: make(map[model.Principal]map[model.Principal]bool)}
}

// Set overwrites the edge unconditionally.
func (m *PermissionMatrix) Set(patient, provider model.Principal, grant bool) {
	row, ok := m.edges[patient]
	if !ok {
		row = make(map[model.Principal]bool)
		m.edges[patient] = row
	}
	row[provider] = grant
}

func (m *PermissionMatrix) Check(patient, provider model.Principal) bool {
	return m.edges[patient][provider]
}

// Providers lists the providers the patient currently grants access to.
func (m *PermissionMatrix) Providers(patient model.Principal) []model.Principal {
	var out []model.Principal
	for provider, ok := range m.edges[patient] {
		if ok {
			out = append(out, provider)
		}
	}
	return out
}
