package domain

// Profile is the role-specific view returned for the caller's own account.
// Which collections are filled depends on the caller's role.
type Profile struct {
	Account AccountInfo `json:"account"`
	// Accounts holds every partition; admin only.
	Accounts map[Role][]AccountInfo `json:"accounts,omitempty"`
	// RegisteredVisitors are the visitors a security account registered.
	RegisteredVisitors []AccountInfo  `json:"registeredVisitors,omitempty"`
	Passes             []VisitorPass `json:"passes"`
}

func NewProfile(acc *Account) *Profile {
	return &Profile{
		Account: acc.ToInfo(),
		Passes:  []VisitorPass{},
	}
}

func AccountInfos(accounts []Account) []AccountInfo {
	out := make([]AccountInfo, 0, len(accounts))
	for i := range accounts {
		out = append(out, accounts[i].ToInfo())
	}
	return out
}
